// Package cache provides a small in-process TTL cache.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL is a concurrency-safe map whose entries expire after a fixed duration.
// When full, the entry closest to expiry is evicted.
type TTL[K comparable, V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	items      map[K]entry[V]
	now        func() time.Time
}

// New creates a cache. A zero ttl disables caching entirely; maxEntries <= 0
// means unbounded.
func New[K comparable, V any](ttl time.Duration, maxEntries int) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[K]entry[V]),
		now:        time.Now,
	}
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expires) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evict(now)
	}
	c.items[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
}

// Invalidate removes key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evict drops expired entries, or the soonest-expiring one when none has
// expired. Callers hold mu.
func (c *TTL[K, V]) evict(now time.Time) {
	var victim K
	var soonest time.Time
	found := false
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
			continue
		}
		if !found || e.expires.Before(soonest) {
			victim, soonest, found = k, e.expires, true
		}
	}
	if found && len(c.items) >= c.maxEntries {
		delete(c.items, victim)
	}
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Load errors are not cached.
func (c *TTL[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}
