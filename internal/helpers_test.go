package internal

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/radle-project/radle-go/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockReddit is a fake Reddit API: a token endpoint plus per-path canned
// responses for the OAuth API surface.
type mockReddit struct {
	t      *testing.T
	server *httptest.Server

	// routes maps URL paths (without query) to handlers.
	routes map[string]http.HandlerFunc

	// tokenResponse is returned by the token endpoint. Empty means 400.
	tokenResponse string
}

func newMockReddit(t *testing.T) *mockReddit {
	t.Helper()
	m := &mockReddit{t: t, routes: map[string]http.HandlerFunc{}}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/access_token" {
			if m.tokenResponse == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(m.tokenResponse))
			return
		}
		if handler, ok := m.routes[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockReddit) handle(path string, handler http.HandlerFunc) {
	m.routes[path] = handler
}

func (m *mockReddit) respond(path, body string) {
	m.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
}

// newTestClient wires an Authenticator and Client against the mock server
// with tokens already stored.
func (m *mockReddit) newTestClient(recorder UsageRecorder) (*Client, store.KeyValue) {
	m.t.Helper()
	options := store.NewMemoryKV()
	options.Set(AccessTokenKey, "test-access-token")
	options.Set(RefreshTokenKey, "test-refresh-token")

	auth, err := NewAuthenticator(http.DefaultClient, "client-id", "client-secret",
		"https://blog.example/callback", "test-agent", m.server.URL, options, store.NewMemoryCache(), testLogger())
	if err != nil {
		m.t.Fatalf("NewAuthenticator failed: %v", err)
	}

	client, err := NewClient(http.DefaultClient, auth, m.server.URL, "test-agent", recorder,
		&RateLimitConfig{RequestsPerMinute: 60000, Burst: 1000}, testLogger())
	if err != nil {
		m.t.Fatalf("NewClient failed: %v", err)
	}
	return client, options
}

// recordedSample captures one UsageRecorder invocation.
type recordedSample struct {
	Used      float64
	Remaining float64
	Reset     float64
	IsFailure bool
	Endpoint  string
	Payload   string
}

type captureRecorder struct {
	samples []recordedSample
}

func (c *captureRecorder) Record(used, remaining, reset float64, isFailure bool, endpoint, payload string) {
	c.samples = append(c.samples, recordedSample{used, remaining, reset, isFailure, endpoint, payload})
}
