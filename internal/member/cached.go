package member

import (
	"context"
	"fmt"
	"time"

	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/observability"
)

// CachedAdapter memoizes another Adapter for a bounded time. Failures and
// empty records are never cached, so a recovered backend is visible on the
// next call.
type CachedAdapter struct {
	next  Adapter
	cache *cache.MemoryCache[Record]
}

var _ Adapter = (*CachedAdapter)(nil)

// NewCachedAdapter wraps next with an in-memory cache of at most capacity
// records, each kept for ttl.
func NewCachedAdapter(next Adapter, capacity int, ttl time.Duration) (*CachedAdapter, error) {
	if next == nil {
		panic("member: cached adapter requires a backend")
	}

	c, err := cache.NewMemoryCache[Record](capacity, ttl)
	if err != nil {
		return nil, fmt.Errorf("member cache: %w", err)
	}

	return &CachedAdapter{next: next, cache: c}, nil
}

// FetchMemberForPlan implements Adapter.
func (a *CachedAdapter) FetchMemberForPlan(ctx context.Context, userID, planID string) (Record, error) {
	key := cacheKey(userID, planID)

	if rec, ok := a.cache.Get(key); ok {
		observability.MemberCacheHits.Inc()
		return rec, nil
	}
	observability.MemberCacheMisses.Inc()

	rec, err := a.next.FetchMemberForPlan(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	a.cache.Set(key, rec)
	return rec, nil
}

// Invalidate drops the cached record for a user and plan.
func (a *CachedAdapter) Invalidate(userID, planID string) {
	a.cache.Del(cacheKey(userID, planID))
}

// RunMetricsCollector reports the cache size every interval until ctx is done.
func (a *CachedAdapter) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.MemberCacheUsage.Set(float64(a.cache.Len()))
		}
	}
}

// Close releases the cache's background goroutines.
func (a *CachedAdapter) Close() {
	a.cache.Close()
}

// cacheKey joins the pair with a unit separator, which cannot appear in ids
// that survive URL path escaping.
func cacheKey(userID, planID string) string {
	return userID + "\x1f" + planID
}
