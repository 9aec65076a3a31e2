// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 8
	pingTimeout     = 3 * time.Second
	maxConnIdleTime = 5 * time.Minute
	maxConnLifetime = 30 * time.Minute
	applicationName = "task-timeline"
)

// poolConfig parses databaseURL and applies the service defaults. Limits set
// explicitly in the URL (pool_max_conns and friends) are kept.
func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// ParseConfig defaults MaxConns to max(4, NumCPU); uploads are written
	// with COPY in one transaction per timeline so a small pool suffices.
	if cfg.MaxConns > defaultMaxConns {
		cfg.MaxConns = defaultMaxConns
	}
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = maxConnIdleTime
	cfg.MaxConnLifetime = maxConnLifetime
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	return cfg, nil
}

// NewPool opens a pgx pool and verifies the server is reachable.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
