// Package cache provides the in-memory response cache backing the
// revalidating memory API client.
//
// Rows have two independent lifetimes: the data expires after its TTL, but
// the ETag stays retrievable until the row is explicitly removed. An expired
// row is therefore still useful — its ETag drives conditional refetches, and
// within a grace window its data can be served when the network is down.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is used when Set or Touch is called with a non-positive TTL.
const DefaultTTL = 30 * time.Second

type entry struct {
	data   []byte
	etag   string
	expiry time.Time
}

// Cache is a mutex-guarded map from request key to cached response.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	defaultTTL time.Duration

	// now is swapped out in tests.
	now func() time.Time
}

// New creates a Cache. A non-positive defaultTTL falls back to DefaultTTL.
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]*entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the cached data and etag for key. It reports false when the
// key is absent or the data has expired, even though the row itself may
// still be present for Etag lookups.
func (c *Cache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiry) {
		return nil, "", false
	}
	return e.data, e.etag, true
}

// GetStale returns the data of an expired row provided it is still within
// grace past its expiry. Unexpired rows are returned as well.
func (c *Cache) GetStale(key string, grace time.Duration) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiry.Add(grace)) {
		return nil, "", false
	}
	return e.data, e.etag, true
}

// Etag returns the stored etag for key regardless of expiry. Empty when the
// key is absent. This is the only accessor exempt from the expiry check.
func (c *Cache) Etag(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.etag
	}
	return ""
}

// Set inserts or replaces the row for key. A non-positive ttl uses the
// cache default.
func (c *Cache) Set(key string, data []byte, etag string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{
		data:   data,
		etag:   etag,
		expiry: c.now().Add(ttl),
	}
}

// Touch extends the expiry of an existing row without altering its data or
// etag, and reports whether the row existed. Used after a 304 revalidation.
func (c *Cache) Touch(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.expiry = c.now().Add(ttl)
	return true
}

// Invalidate removes the row for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix removes every row whose key starts with prefix. A write
// to one resource uses this to drop the list and search rows that could
// contain it.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Clear removes every row.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Len returns the number of rows, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
