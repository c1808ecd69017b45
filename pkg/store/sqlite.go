package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/radle-project/radle-go/pkg/types"
)

// SQLiteStore is the durable KeyValue and SampleStore backend. A single
// database file holds the options table and the rate-limit sample log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// the schema migration.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS options (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rate_limit_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		used REAL NOT NULL,
		remaining REAL NOT NULL,
		reset REAL NOT NULL,
		is_failure INTEGER NOT NULL DEFAULT 0,
		endpoint TEXT,
		payload TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON rate_limit_samples(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate sqlite store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM options WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO options (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM options WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Append(sample types.Sample) error {
	_, err := s.db.Exec(`
		INSERT INTO rate_limit_samples (timestamp, used, remaining, reset, is_failure, endpoint, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sample.Timestamp, sample.Used, sample.Remaining, sample.Reset,
		boolToInt(sample.IsFailure), sample.Endpoint, sample.Payload)
	return err
}

func (s *SQLiteStore) Since(ts int64) ([]types.Sample, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, used, remaining, reset, is_failure, endpoint, payload
		FROM rate_limit_samples
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []types.Sample
	for rows.Next() {
		var sample types.Sample
		var isFailure int
		var endpoint, payload sql.NullString
		if err := rows.Scan(&sample.Timestamp, &sample.Used, &sample.Remaining,
			&sample.Reset, &isFailure, &endpoint, &payload); err != nil {
			return nil, err
		}
		sample.IsFailure = isFailure != 0
		sample.Endpoint = endpoint.String
		sample.Payload = payload.String
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (s *SQLiteStore) Prune(cutoff int64) error {
	_, err := s.db.Exec(`DELETE FROM rate_limit_samples WHERE timestamp < ?`, cutoff)
	return err
}

func (s *SQLiteStore) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM rate_limit_samples`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
