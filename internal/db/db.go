// Package db provides PostgreSQL persistence for agents, positions,
// watchlists, trades, regimes, recommendations, and activity history.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNotFound marks lookups that matched no row. Callers branch on it
// with errors.Is; the HTTP layer maps it to 404.
var ErrNotFound = errors.New("not found")

// DB wraps a pgx connection pool. The process runs two instances with
// independent connection budgets: one for the HTTP layer and one for
// scheduled cycles, so a slow cycle cannot starve the API.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a database handle with the given pool budget.
func New(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if maxConns < 2 {
		maxConns = 2
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", maxConns).
		Msg("Database connection pool established")

	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pgx pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// SetPool injects a pool directly. Test helpers use this to wrap a
// container-backed pool without going through New.
func (d *DB) SetPool(pool *pgxpool.Pool) {
	d.pool = pool
}

// Close releases all pooled connections.
func (d *DB) Close() {
	d.pool.Close()
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Health runs a trivial query to confirm the database answers.
func (d *DB) Health(ctx context.Context) error {
	var one int
	if err := d.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
