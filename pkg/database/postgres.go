// Package database manages the PostgreSQL connection pool and migrations.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool connection pool. Repositories embed it directly so
// bulk result flushes can use pgx.Batch without unwrapping.
type DB struct {
	*pgxpool.Pool
}

// Connect opens a connection pool and verifies it with a ping. A maxConns
// of 0 falls back to 25, enough headroom for an import run's bulk flushes
// alongside interactive requests.
func Connect(ctx context.Context, url string, maxConns int32) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = maxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 25
	}
	// Recycle connections so a long-paused import job does not pin
	// stale ones open for days.
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
