// Package database provides the PostgreSQL connection factory, schema
// migrations and pool monitoring.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/observability"
)

// NewPostgresPool opens the pool backing the ruleset and member stores and
// pings it once. The caller owns the pool.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	// Short timeout for fail-fast behavior
	initCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(initCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.FromContext(ctx).Info("connected to postgres",
		slog.Int("max_conns", int(poolCfg.MaxConns)),
		slog.Int("min_conns", int(poolCfg.MinConns)),
		slog.String("statement_timeout_ms", poolCfg.ConnConfig.RuntimeParams["statement_timeout"]),
	)
	return pool, nil
}

// HealthChecker reports Postgres as "postgres" on the readiness endpoint. It
// acquires a pooled connection so pool exhaustion shows up as not ready.
func HealthChecker(pool *pgxpool.Pool) observability.Checker {
	return observability.CheckerFunc{
		ComponentName: "postgres",
		Fn: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("database pool is nil")
			}
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire connection: %w", err)
			}
			defer conn.Release()
			return conn.Ping(ctx)
		},
	}
}

// RunPoolMonitor exports pool statistics as gauges until ctx is cancelled.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recordPoolStats(pool.Stat())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordPoolStats(stat *pgxpool.Stat) {
	observability.DBPoolConnections.WithLabelValues("acquired").Set(float64(stat.AcquiredConns()))
	observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
	observability.DBPoolMaxConnections.Set(float64(stat.MaxConns()))
}
