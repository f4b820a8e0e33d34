package cache

import (
	"time"

	"github.com/maypok86/otter"
)

// MemoryCache is an in-process TTL cache using a contention-free eviction
// algorithm (S3-FIFO) provided by the 'otter' library.
type MemoryCache[V any] struct {
	store otter.Cache[string, V]
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: Max number of items (Hard Cap to prevent OOM).
// ttl: Time-To-Live for items (bounds how stale a cached value can be).
func NewMemoryCache[V any](capacity int, ttl time.Duration) (*MemoryCache[V], error) {
	store, err := otter.MustBuilder[string, V](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache[V]{store: store}, nil
}

// Get retrieves a value from memory.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	return c.store.Get(key)
}

// Set adds or updates a value. The TTL configured in NewMemoryCache applies.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.store.Set(key, value)
}

// Del removes a value from memory.
func (c *MemoryCache[V]) Del(key string) {
	c.store.Delete(key)
}

// Len returns the current number of cached items.
func (c *MemoryCache[V]) Len() int {
	return c.store.Size()
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache[V]) Close() {
	c.store.Close()
}
