package store

import (
	"path/filepath"
	"testing"

	"github.com/radle-project/radle-go/pkg/types"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "radle.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteKeyValue(t *testing.T) {
	s := newTestSQLite(t)

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Errorf("Get(missing) = ok=%v err=%v, want not found", ok, err)
	}

	if err := s.Set("radle_raw_access_token", "tok-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, ok, _ := s.Get("radle_raw_access_token"); !ok || v != "tok-1" {
		t.Errorf("Get = (%q, %v), want (tok-1, true)", v, ok)
	}

	// Upsert replaces in place.
	if err := s.Set("radle_raw_access_token", "tok-2"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if v, _, _ := s.Get("radle_raw_access_token"); v != "tok-2" {
		t.Errorf("after upsert Get = %q, want tok-2", v)
	}

	if err := s.Delete("radle_raw_access_token"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("radle_raw_access_token"); ok {
		t.Error("deleted key should not be found")
	}
}

func TestSQLiteSamples(t *testing.T) {
	s := newTestSQLite(t)

	in := []types.Sample{
		{Timestamp: 100, Used: 10, Remaining: 90, Reset: 500, Endpoint: "a"},
		{Timestamp: 300, Used: 30, Remaining: 70, Reset: 300, IsFailure: true, Endpoint: "c", Payload: "x=1"},
		{Timestamp: 200, Used: 20, Remaining: 80, Reset: 400, Endpoint: "b"},
	}
	for _, sample := range in {
		if err := s.Append(sample); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.Since(150)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Since returned %d samples, want 2", len(got))
	}
	if got[0].Timestamp != 200 || got[1].Timestamp != 300 {
		t.Errorf("samples out of order: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}
	if !got[1].IsFailure || got[1].Payload != "x=1" {
		t.Errorf("failure sample round-trip mismatch: %+v", got[1])
	}

	if err := s.Prune(200); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	remaining, _ := s.Since(0)
	if len(remaining) != 2 {
		t.Errorf("after prune: %d samples, want 2", len(remaining))
	}

	if err := s.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if empty, _ := s.Since(0); len(empty) != 0 {
		t.Errorf("after DeleteAll: %d samples, want 0", len(empty))
	}
}
