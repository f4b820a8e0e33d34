// Package main runs the Gatekeeper syncer worker, which publishes the current
// ruleset from Postgres to Redis for API instances in "remote" rules mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaeljc/gatekeeper/internal/cache"
	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/database"
	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/observability"
	"github.com/rafaeljc/gatekeeper/internal/store"
	"github.com/rafaeljc/gatekeeper/internal/syncer"
)

const poolMonitorInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLog := logger.New(&cfg.App).With(slog.String("component", "syncer"))
	slog.SetDefault(appLog)
	cfg.LogConfig(appLog)

	if !cfg.Syncer.Enabled {
		appLog.Info("syncer disabled, exiting")
		return nil
	}
	if !cfg.Database.IsConfigured() || !cfg.Redis.IsConfigured() {
		return errors.New("syncer requires both GATEKEEPER_DB_* and GATEKEEPER_REDIS_* settings")
	}
	// Load only validates backends the API mode needs; the syncer needs both.
	if err := cfg.Database.Validate(cfg.App.Environment); err != nil {
		return err
	}
	if err := cfg.Redis.Validate(cfg.App.Environment); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, appLog)

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
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

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	obsServer := observability.NewServer(appLog, &cfg.Observability,
		database.HealthChecker(pool),
		cache.HealthChecker(redisClient),
	)
	obsServer.Start()

	svc := syncer.New(appLog, &cfg.Syncer,
		store.NewRulesetStore(pool),
		cache.NewRulesetCache(redisClient, cfg.Rules.RedisKey),
	)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("syncer stopped: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLog.Info("syncer exited successfully")
	return nil
}
