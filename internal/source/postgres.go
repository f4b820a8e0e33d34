package source

import (
	"context"
	"fmt"
	"time"

	"github.com/rafaeljc/gatekeeper/internal/ruleset"
	"github.com/rafaeljc/gatekeeper/internal/store"
	"github.com/rafaeljc/gatekeeper/internal/validation"
)

// LatestReader is the slice of store.RulesetRepository this source needs.
type LatestReader interface {
	LatestRuleset(ctx context.Context) (*store.Ruleset, error)
}

// Postgres reads the current version from the rulesets table directly,
// bypassing the syncer.
type Postgres struct {
	repo    LatestReader
	timeout time.Duration
}

var _ Source = (*Postgres)(nil)

// NewPostgres returns a source over repo. Each fetch is bounded by timeout.
func NewPostgres(repo LatestReader, timeout time.Duration) *Postgres {
	validation.AssertPresent(repo, "postgres source repository")
	return &Postgres{repo: repo, timeout: timeout}
}

// Name implements Source.
func (p *Postgres) Name() string { return "postgres" }

// FetchRawConfig implements Source.
func (p *Postgres) FetchRawConfig(ctx context.Context) (any, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	r, err := p.repo.LatestRuleset(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := ruleset.Decode([]byte(r.Document))
	if err != nil {
		return nil, fmt.Errorf("ruleset v%d: %w", r.Version, err)
	}
	return raw, nil
}
