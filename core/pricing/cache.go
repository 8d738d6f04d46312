// Package pricing - Resolution cache with TTL and stampede collapse
// Concurrent misses for one key share a single upstream lookup.
package pricing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"energy-quote/core/types"
)

// DefaultCacheTTL is used when no TTL is configured
const DefaultCacheTTL = 5 * time.Minute

// CacheEntry is a cached resolution with its lifetime
type CacheEntry struct {
	Tier      types.PriceTier
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired checks the entry against now
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats reports cache activity
type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Loads    int64 `json:"loads"`
	Shared   int64 `json:"shared"`
	Uncached int64 `json:"uncached"`
	Entries  int   `json:"entries"`
}

// Loader produces the tier for a missed key. A tier reported as not
// cacheable is handed to every waiting caller but never stored.
type Loader func() (tier types.PriceTier, cacheable bool, err error)

// Cache holds resolved tiers for a fixed interval
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*CacheEntry
	group   singleflight.Group
	mu      sync.RWMutex

	hits     atomic.Int64
	misses   atomic.Int64
	loads    atomic.Int64
	shared   atomic.Int64
	uncached atomic.Int64
}

// NewCache creates a cache; ttl <= 0 selects DefaultCacheTTL
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*CacheEntry),
	}
}

// Get returns a live entry
func (c *Cache) Get(key string) (types.PriceTier, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.IsExpired(c.now()) {
		return types.PriceTier{}, false
	}
	return entry.Tier, true
}

// GetOrLoad returns the cached tier or runs load exactly once for all
// concurrent callers of the same key. Errors are not cached. A caller whose
// ctx ends stops waiting; the shared load keeps running for the others.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load Loader) (types.PriceTier, bool, error) {
	if tier, ok := c.Get(key); ok {
		c.hits.Add(1)
		return tier, true, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if tier, ok := c.Get(key); ok {
			return tier, nil
		}
		c.loads.Add(1)
		tier, cacheable, err := load()
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.put(key, tier)
		} else {
			c.uncached.Add(1)
		}
		return tier, nil
	})

	select {
	case <-ctx.Done():
		return types.PriceTier{}, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return types.PriceTier{}, false, res.Err
		}
		return res.Val.(types.PriceTier), false, nil
	}
}

func (c *Cache) put(key string, tier types.PriceTier) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &CacheEntry{
		Tier:      tier,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Invalidate removes one entry
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops expired entries and returns how many were removed
func (c *Cache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
}

// Stats returns a snapshot of cache counters
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Loads:    c.loads.Load(),
		Shared:   c.shared.Load(),
		Uncached: c.uncached.Load(),
		Entries:  n,
	}
}
