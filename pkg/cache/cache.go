// Package cache provides a small in-memory TTL cache shared by the
// retrieval engine (schema lookups), the template selector and the tracer.
// Entries expire by TTL; explicit invalidation only happens in response to
// an external schema-change notification.
package cache

import (
	"sync"
	"time"
)

// Cache is a generic get/set cache with per-entry TTL. Implementations
// must support concurrent readers with low-contention writes.
type Cache[V any] interface {
	// Get returns the value for key, or false if absent or expired.
	Get(key string) (V, bool)

	// Set stores value under key with the given TTL.
	Set(key string, value V, ttl time.Duration)

	// SetIfAbsent stores value only when no live entry exists for key.
	// Returns true if the value was stored.
	SetIfAbsent(key string, value V, ttl time.Duration) bool

	// Delete removes key.
	Delete(key string)

	// Clear removes every entry. Driven by schema-change notifications.
	Clear()
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]

	now func() time.Time
}

// New creates an in-memory TTL cache. The janitor goroutine sweeps expired
// entries at the given interval until stop is closed; pass a nil stop
// channel to skip the janitor (expired entries are still never returned).
func New[V any](janitorInterval time.Duration, stop <-chan struct{}) Cache[V] {
	c := &ttlCache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
	if stop != nil && janitorInterval > 0 {
		go c.janitor(janitorInterval, stop)
	}
	return c
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *ttlCache[V]) SetIfAbsent(key string, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		return false
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	return true
}

func (c *ttlCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *ttlCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

func (c *ttlCache[V]) janitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

var _ Cache[string] = (*ttlCache[string])(nil)
