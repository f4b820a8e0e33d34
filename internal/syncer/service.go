// Package syncer implements the background worker that publishes the current
// ruleset from PostgreSQL (source of truth) to Redis, where API instances in
// "remote" rules mode read it.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/observability"
	"github.com/rafaeljc/gatekeeper/internal/ruleset"
	"github.com/rafaeljc/gatekeeper/internal/store"
	"github.com/rafaeljc/gatekeeper/internal/validation"
)

// Outcome of one synchronization pass, used as the "status" metric label.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeInvalid means the latest saved document fails validation. The
	// previously published document stays in place.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeEmpty means nothing has been saved yet.
	OutcomeEmpty Outcome = "empty"
	OutcomeFail  Outcome = "fail"
)

// minInterval guards against a busy loop on a misconfigured interval.
const minInterval = time.Second

// Reader is the read side of the ruleset repository.
type Reader interface {
	LatestRuleset(ctx context.Context) (*store.Ruleset, error)
}

// Publisher is where validated documents are published.
type Publisher interface {
	Checksum(ctx context.Context) (string, error)
	Publish(ctx context.Context, doc *cache.RulesetDocument) error
}

var (
	_ Reader    = (*store.RulesetStore)(nil)
	_ Publisher = (*cache.RulesetCache)(nil)
)

// Service orchestrates the synchronization process.
type Service struct {
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	repo     Reader
	cache    Publisher
	now      func() time.Time
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg *config.SyncerConfig, repo Reader, pub Publisher) *Service {
	validation.AssertNotNil(cfg, "syncer config")
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(repo, "syncer ruleset reader")
	validation.AssertPresent(pub, "syncer publisher")

	interval := cfg.Interval
	if interval < minInterval {
		interval = minInterval
	}

	return &Service{
		logger:   logger,
		interval: interval,
		timeout:  cfg.Timeout,
		repo:     repo,
		cache:    pub,
		now:      time.Now,
	}
}

// Run starts the syncer loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	if _, err := s.SyncOnce(ctx); err != nil {
		s.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			// Failures are retried on the next tick.
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SyncOnce performs a single synchronization pass. An error is returned only
// for OutcomeFail and OutcomeInvalid.
func (s *Service) SyncOnce(ctx context.Context) (Outcome, error) {
	start := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	outcome, err := s.sync(ctx)

	observability.SyncerJobDuration.Observe(time.Since(start).Seconds())
	observability.SyncerJobsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Service) sync(ctx context.Context) (Outcome, error) {
	latest, err := s.repo.LatestRuleset(ctx)
	if errors.Is(err, store.ErrNoRuleset) {
		s.logger.Debug("no ruleset saved yet, nothing to publish")
		return OutcomeEmpty, nil
	}
	if err != nil {
		return OutcomeFail, err
	}

	published, err := s.cache.Checksum(ctx)
	if err != nil {
		return OutcomeFail, err
	}
	if published == latest.Checksum {
		return OutcomeUnchanged, nil
	}

	// API instances fall back to their local file when the Redis document is
	// invalid, so an invalid version must never replace a valid one.
	rules, err := ruleset.Parse([]byte(latest.Document))
	if err != nil {
		s.logger.Error("latest ruleset is invalid, keeping the published one",
			slog.Int64("version", latest.Version),
			slog.String("error", err.Error()),
		)
		return OutcomeInvalid, err
	}

	doc := &cache.RulesetDocument{
		Version:     latest.Version,
		Checksum:    latest.Checksum,
		Data:        []byte(latest.Document),
		PublishedAt: s.now().UTC(),
	}
	if err := s.cache.Publish(ctx, doc); err != nil {
		return OutcomeFail, err
	}

	s.logger.Info("ruleset published",
		slog.Int64("version", latest.Version),
		slog.String("checksum", latest.Checksum),
		slog.Int("rules", len(rules)),
	)
	return OutcomePublished, nil
}
