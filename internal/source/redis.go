package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/ruleset"
)

// Redis reads the document the syncer publishes to the shared Redis key.
type Redis struct {
	cache   *cache.RulesetCache
	timeout time.Duration
}

var _ Source = (*Redis)(nil)

// NewRedis returns a source over c. Each fetch is bounded by timeout.
func NewRedis(c *cache.RulesetCache, timeout time.Duration) *Redis {
	if c == nil {
		panic("source: ruleset cache cannot be nil")
	}
	return &Redis{cache: c, timeout: timeout}
}

// Name implements Source.
func (r *Redis) Name() string { return "redis" }

// FetchRawConfig implements Source.
func (r *Redis) FetchRawConfig(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	doc, err := r.cache.Get(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := ruleset.Decode(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("redis key %s (v%d): %w", r.cache.Key(), doc.Version, err)
	}
	return raw, nil
}
