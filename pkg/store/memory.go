package store

import (
	"sort"
	"sync"
	"time"

	"github.com/radle-project/radle-go/pkg/types"
)

// MemoryKV is an in-memory KeyValue implementation, used in tests and as a
// fallback when no durable path is configured.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV creates an empty in-memory key-value store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is a thread-safe in-memory cache with per-entry TTL.
// Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory TTL cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// SetClock replaces the time source. Test hook.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// MemorySamples is an in-memory SampleStore used in tests.
type MemorySamples struct {
	mu      sync.Mutex
	samples []types.Sample
}

// NewMemorySamples creates an empty in-memory sample log.
func NewMemorySamples() *MemorySamples {
	return &MemorySamples{}
}

func (m *MemorySamples) Append(s types.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *MemorySamples) Since(ts int64) ([]types.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Sample
	for _, s := range m.samples {
		if s.Timestamp >= ts {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemorySamples) Prune(cutoff int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.samples[:0]
	for _, s := range m.samples {
		if s.Timestamp >= cutoff {
			kept = append(kept, s)
		}
	}
	m.samples = kept
	return nil
}

func (m *MemorySamples) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	return nil
}
