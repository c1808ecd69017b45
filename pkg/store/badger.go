package store

import (
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerCache is a durable Cache backed by Badger's native per-entry TTL.
// Cached moderator lists and avatar lookups survive process restarts, which
// matters because their whole point is shielding a rate-limited upstream.
type BadgerCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerCache opens a Badger-backed cache at dir. An empty dir opens an
// in-memory database, which tests use.
func NewBadgerCache(dir string, logger *slog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerCache{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) Get(key string) (string, bool) {
	var value string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return value, true
}

func (c *BadgerCache) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		// Cache writes are best-effort; a failed write only costs a re-fetch.
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *BadgerCache) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}
