package tools

import (
	"sync"
	"time"
)

const (
	defaultCacheTTL        = 15 * time.Minute
	defaultCacheMaxEntries = 128
)

// webCache is a small TTL cache for search results and fetched pages,
// keeping repeated lookups within a conversation cheap.
type webCache struct {
	mu      sync.Mutex
	entries map[string]webCacheEntry
	ttl     time.Duration
	max     int
}

type webCacheEntry struct {
	value   string
	expires time.Time
}

func newWebCache(ttl time.Duration, max int) *webCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if max <= 0 {
		max = defaultCacheMaxEntries
	}
	return &webCache{entries: make(map[string]webCacheEntry), ttl: ttl, max: max}
}

func (c *webCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *webCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = webCacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}

// evictLocked drops expired entries, then arbitrary ones until below cap.
// Coarse, but the cache is small and short-lived.
func (c *webCache) evictLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	for k := range c.entries {
		if len(c.entries) < c.max {
			break
		}
		delete(c.entries, k)
	}
}
