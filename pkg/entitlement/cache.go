package entitlement

import (
	"sync"
	"time"
)

// profileCache is a small TTL cache over profile lookups so the guard does
// not hit the store on every access check. Eviction is oldest-expiry-first
// when the cache is full; webhook writes go through the Store, so entries
// may briefly serve a stale tier within the TTL window.
type profileCache struct {
	mu      sync.RWMutex
	entries map[string]*profileCacheEntry
	ttl     time.Duration
	max     int
}

type profileCacheEntry struct {
	profile    *Profile
	expiration time.Time
}

func newProfileCache(ttl time.Duration, max int) *profileCache {
	if max <= 0 {
		max = 1000
	}
	return &profileCache{
		entries: make(map[string]*profileCacheEntry),
		ttl:     ttl,
		max:     max,
	}
}

func (c *profileCache) get(userID string) (*Profile, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiration) {
		return nil, false
	}

	// Return a copy to prevent external mutations
	p := *entry.profile
	return &p, true
}

func (c *profileCache) set(userID string, profile *Profile) {
	p := *profile

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[userID] = &profileCacheEntry{
		profile:    &p,
		expiration: time.Now().Add(c.ttl),
	}
}

func (c *profileCache) invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *profileCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiration.Before(oldest) {
			oldestKey = key
			oldest = entry.expiration
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
