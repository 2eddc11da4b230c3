package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen message keys so webhook retries
// and double-delivered updates do not run the same turn twice.
type DedupeCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]time.Time // key -> expiry
}

// NewDedupeCache creates a cache holding at most max keys for ttl each.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
	}
}

// IsDuplicate reports whether key was seen within the TTL, recording it
// either way.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if exp, ok := c.entries[key]; ok && now.Before(exp) {
		return true
	}

	if len(c.entries) >= c.max {
		c.prune(now)
	}
	c.entries[key] = now.Add(c.ttl)
	return false
}

// prune drops expired entries, then evicts the earliest-expiring keys
// until the cache is under its cap.
func (c *DedupeCache) prune(now time.Time) {
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.max {
		var oldestKey string
		var oldest time.Time
		for k, exp := range c.entries {
			if oldestKey == "" || exp.Before(oldest) {
				oldestKey, oldest = k, exp
			}
		}
		delete(c.entries, oldestKey)
	}
}
