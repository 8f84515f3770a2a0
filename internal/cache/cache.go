package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for key on a miss
type Loader[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is an in-memory cache whose misses are loaded once per key even under concurrent callers
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	load    Loader[V]
	group   singleflight.Group
	now     func() time.Time
}

// NewTTL creates a TTL cache
func NewTTL[V any](ttl time.Duration, load Loader[V]) *TTL[V] {
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		load:    load,
		now:     time.Now,
	}
}

// Get returns the cached value or loads it. Load errors are not cached. The shared load is
// detached from the cancellation of whichever caller started it; each caller stops waiting
// when its own ctx is done.
func (c *TTL[V]) Get(ctx context.Context, key string) (V, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.value, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := c.load(loadCtx, key)
		if err != nil {
			return value, err
		}
		c.Set(key, value)
		return value, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Set stores value under key
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops key
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops expired entries
func (c *TTL[V]) Purge() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired ones included
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
