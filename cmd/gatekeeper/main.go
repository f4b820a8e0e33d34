// Package main initializes and runs the Gatekeeper API service.
//
// It acts as the composition root: configuration, logging, tracing, the
// optional Postgres and Redis backends, the member adapter, the policy engine
// and the HTTP servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rafaeljc/gatekeeper/internal/api"
	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/database"
	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/member"
	"github.com/rafaeljc/gatekeeper/internal/observability"
	"github.com/rafaeljc/gatekeeper/internal/policy"
	"github.com/rafaeljc/gatekeeper/internal/source"
	"github.com/rafaeljc/gatekeeper/internal/store"
	"github.com/rafaeljc/gatekeeper/internal/tracing"
)

const (
	poolMonitorInterval  = 15 * time.Second
	cacheMonitorInterval = 15 * time.Second
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLog := logger.New(&cfg.App)
	slog.SetDefault(appLog)
	cfg.LogConfig(appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, appLog)

	shutdownTracing, err := tracing.Init(ctx, &cfg.App, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// -------------------------------------------------------------------------
	// 2. Infrastructure (optional backends)
	// -------------------------------------------------------------------------
	var checkers []observability.Checker

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() || cfg.Database.IsConfigured() {
		pool, err = database.NewPostgresPool(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		if cfg.Database.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)
		checkers = append(checkers, database.HealthChecker(pool))
	}

	var redisClient *redis.Client
	if cfg.NeedsRedis() || cfg.Redis.IsConfigured() {
		redisClient, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checkers = append(checkers, cache.HealthChecker(redisClient))
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	members, closeMembers, err := newMemberBackend(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer closeMembers()

	deps := source.Deps{DB: pool}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	sources, err := source.FromConfig(&cfg.Rules, deps)
	if err != nil {
		return err
	}

	opts := []policy.Option{
		policy.WithLogger(appLog),
		policy.WithSwitchablePlans(cfg.Plans.Switchable...),
	}
	if members.adapter != nil {
		opts = append(opts, policy.WithMemberAdapter(members.adapter))
	}
	load := func(ctx context.Context) *policy.Engine {
		return policy.Load(ctx, sources, opts...)
	}

	engines := policy.NewHolder(load(ctx))
	go engines.Watch(ctx, cfg.Rules.ReloadInterval, load)

	apiDeps := api.Deps{
		Engines:      engines,
		Load:         load,
		APIKeyHash:   cfg.Server.APIKeyHash,
		SkipAuth:     cfg.Server.APIKeyHash == "",
		MaxBodyBytes: cfg.Server.MaxBodyBytes,

		AuthFailuresPerMinute: cfg.Server.AuthFailuresPerMinute,
	}
	if pool != nil {
		apiDeps.Rulesets = store.NewRulesetStore(pool)
	}
	if members.writer != nil {
		apiDeps.Members = members.writer
	}
	if members.cache != nil {
		apiDeps.MemberCache = members.cache
	}
	if apiDeps.SkipAuth {
		appLog.Warn("API key not configured, ruleset administration is unauthenticated")
	}
	restAPI := api.New(apiDeps)
	defer restAPI.Close()

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(appLog, &cfg.Observability, checkers...)
	obsServer.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           otelhttp.NewHandler(restAPI.Router, "gatekeeper.api"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLog.Info("API server listening", slog.String("addr", srv.Addr), slog.Bool("tls", cfg.Server.TLSEnabled))

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		appLog.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("API server shutdown failed", slog.String("error", err.Error()))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLog.Error("tracing shutdown failed", slog.String("error", err.Error()))
	}

	appLog.Info("service exited successfully")
	return nil
}

// memberBackend is the wiring of the plan-switch member data.
type memberBackend struct {
	adapter member.Adapter
	// writer is set when the backend can be written through the API.
	writer member.Writer
	// cache is set when the in-memory cache is enabled.
	cache *member.CachedAdapter
}

// newMemberBackend builds the plan-switch member backend, wrapped in the
// in-memory cache when enabled. The adapter is nil for backend "none".
func newMemberBackend(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (memberBackend, func(), error) {
	noop := func() {}

	var mb memberBackend
	switch cfg.Member.Backend {
	case config.MemberBackendHTTP:
		mb.adapter = member.NewHTTPAdapter(&cfg.Member, nil)
	case config.MemberBackendPostgres:
		members := store.NewMemberStore(pool)
		mb.adapter, mb.writer = members, members
	default:
		return mb, noop, nil
	}

	if !cfg.Member.CacheEnabled() {
		return mb, noop, nil
	}

	cached, err := member.NewCachedAdapter(mb.adapter, cfg.Member.CacheSize, cfg.Member.CacheTTL)
	if err != nil {
		return memberBackend{}, noop, fmt.Errorf("failed to create member cache: %w", err)
	}
	go cached.RunMetricsCollector(ctx, cacheMonitorInterval)

	mb.adapter, mb.cache = cached, cached
	return mb, cached.Close, nil
}
