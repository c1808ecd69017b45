// Package store provides the persistence collaborators the Radle core is
// written against: a key-value option store, a TTL-expiring cache, and a
// durable log of rate-limit samples.
package store

import (
	"time"

	"github.com/radle-project/radle-go/pkg/types"
)

// KeyValue is a durable string key-value store. It backs OAuth tokens,
// per-post thread associations, and hidden-comment sets.
type KeyValue interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Cache is a TTL-expiring store for moderator lists, user info, search
// results, OAuth CSRF state, and the optional whole-response comment cache.
// Lookups are best-effort: a miss and a backend failure look the same.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
}

// SampleStore is the durable rate-limit sample log. Samples are appended
// atomically per call and pruned by age; there is no whole-list rewrite.
type SampleStore interface {
	Append(s types.Sample) error
	// Since returns samples with Timestamp >= ts, ascending by timestamp.
	Since(ts int64) ([]types.Sample, error)
	// Prune removes samples with Timestamp < cutoff.
	Prune(cutoff int64) error
	DeleteAll() error
}
