// Package cache provides a generic loader cache combining an expiring LRU with
// singleflight to coalesce concurrent loads for the same key.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// LoaderCache is a string-keyed cache that loads values on miss via a callback and
// coalesces concurrent loads for the same key. Entries expire ttl after they are added.
// Failed loads are never cached.
type LoaderCache[V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
}

// NewLoaderCache creates a loader cache holding at most maxEntries entries for ttl each.
func NewLoaderCache[V any](maxEntries int, ttl time.Duration) *LoaderCache[V] {
	return &LoaderCache[V]{
		lru: expirable.NewLRU[string, V](maxEntries, nil, ttl),
	}
}

// Get returns the value for key, loading it via load on cache miss.
func (c *LoaderCache[V]) Get(ctx context.Context, key string, load func(context.Context, string) (V, error)) (V, error) {
	v, _, err := c.GetWithStats(ctx, key, load)

	return v, err
}

// GetWithStats is like Get but also returns whether the value came from cache (hit) or was loaded (miss).
// On miss, Do(key, fn) ensures only one goroutine runs load() for that key; others block
// and receive the same result.
func (c *LoaderCache[V]) GetWithStats(ctx context.Context, key string, load func(context.Context, string) (V, error)) (V, bool, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, true, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return zero[V](), loadErr
		}

		c.lru.Add(key, loaded)

		return loaded, nil
	})
	if err != nil {
		return zero[V](), false, err
	}

	return val.(V), false, nil
}

func zero[V any]() (z V) { return z }

// Invalidate removes the entry for key.
func (c *LoaderCache[V]) Invalidate(key string) {
	c.lru.Remove(key)
}

// InvalidateAll removes all entries.
func (c *LoaderCache[V]) InvalidateAll() {
	c.lru.Purge()
}

// Len returns the number of entries in the cache, including ones not yet evicted after expiry.
func (c *LoaderCache[V]) Len() int {
	return c.lru.Len()
}
