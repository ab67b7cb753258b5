// Package memory provides an in-process result cache.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/migrapass/checkgate/internal/gateway"
)

// DefaultRetention bounds how long expired entries are kept around for
// stale fallbacks before they are swept.
const DefaultRetention = 7 * 24 * time.Hour

// Cache implements gateway.Cache with a mutex-guarded map. Expired entries
// are deliberately retained until the retention window passes, since the
// wrapper serves them as degraded fallbacks.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]gateway.CacheEntry
	retention time.Duration
	clock     gateway.Clock
}

// New creates a Cache. A non-positive retention falls back to the default.
func New(retention time.Duration, clock gateway.Clock) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Cache{
		entries:   make(map[string]gateway.CacheEntry),
		retention: retention,
		clock:     clock,
	}
}

// Get returns the entry for key, expired or not.
func (c *Cache) Get(_ context.Context, key string) (gateway.CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok, nil
}

// Set stores the entry and sweeps anything past the retention window.
func (c *Cache) Set(_ context.Context, key string, entry gateway.CacheEntry) error {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	for k, e := range c.entries {
		if now.Sub(e.CachedAt) > c.retention {
			delete(c.entries, k)
		}
	}
	return nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len reports the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
