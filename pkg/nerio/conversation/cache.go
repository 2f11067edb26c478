package conversation

import (
	"sync"
	"time"
)

// cacheEntry holds one cached value with its expiry deadline.
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// inflight tracks a GetOrCreate call in progress so concurrent callers for
// the same key share one fill instead of racing the loader.
type inflight struct {
	done  chan struct{}
	value any
	err   error
}

// Cache is a TTL keyed cache shared across concurrent command executions.
// Values stored here are canonical: the store layer clones on the way out
// so no caller ever holds a reference that aliases a cached entry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	fills   map[string]*inflight
	ttl     time.Duration
	now     func() time.Time
}

// DefaultCacheTTL is how long a cached session survives without access.
const DefaultCacheTTL = 5 * 24 * time.Hour

// NewCache creates a cache with the given entry TTL. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		fills:   make(map[string]*inflight),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key, or false when absent or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache) getLocked(key string) (any, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key with a fresh TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// GetOrCreate returns the cached value for key, filling it via load on a
// miss. Concurrent callers for the same missing key share a single load;
// both receive the same value. A load error is returned to every waiter and
// nothing is cached.
func (c *Cache) GetOrCreate(key string, load func() (any, error)) (any, error) {
	c.mu.Lock()
	if value, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return value, nil
	}

	if fill, ok := c.fills[key]; ok {
		c.mu.Unlock()
		<-fill.done
		return fill.value, fill.err
	}

	fill := &inflight{done: make(chan struct{})}
	c.fills[key] = fill
	c.mu.Unlock()

	fill.value, fill.err = load()

	c.mu.Lock()
	delete(c.fills, key)
	if fill.err == nil {
		c.entries[key] = cacheEntry{value: fill.value, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()

	close(fill.done)
	return fill.value, fill.err
}

// Len reports the number of live entries, expired ones included until read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
