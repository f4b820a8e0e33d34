// Package source supplies raw, unvalidated ruleset documents to the policy
// engine. Sources are tried in order by policy.Load; validation is the
// engine's job, so a source only fetches and decodes.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/store"
)

// Source yields a decoded ruleset document: the nested mapping that
// ruleset.ParseConfig validates.
type Source interface {
	// Name identifies the source in logs, metrics and Engine.Origin.
	Name() string
	FetchRawConfig(ctx context.Context) (any, error)
}

// Deps carries the infrastructure clients remote sources need. Fields may be
// nil when the configured mode does not use them.
type Deps struct {
	Redis redis.Cmdable
	DB    *pgxpool.Pool
}

// FromConfig builds the fallback chain for the configured rules mode. The
// local file is always the last source.
func FromConfig(cfg *config.RulesConfig, deps Deps) ([]Source, error) {
	file := NewFile(cfg.FilePath)

	switch cfg.Mode {
	case config.RulesModeLocal:
		return []Source{file}, nil

	case config.RulesModeRemote:
		if deps.Redis == nil {
			return nil, fmt.Errorf("rules mode %q requires a redis client", cfg.Mode)
		}
		rc := cache.NewRulesetCache(deps.Redis, cfg.RedisKey)
		return []Source{NewRedis(rc, cfg.FetchTimeout), file}, nil

	case config.RulesModeDatabase:
		if deps.DB == nil {
			return nil, fmt.Errorf("rules mode %q requires a database pool", cfg.Mode)
		}
		return []Source{NewPostgres(store.NewRulesetStore(deps.DB), cfg.FetchTimeout), file}, nil

	default:
		return nil, fmt.Errorf("unknown rules mode %q", cfg.Mode)
	}
}

// withTimeout bounds a remote fetch. A zero timeout leaves ctx untouched.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
