// SPDX-License-Identifier: Apache-2.0

// Package persistence selects the timeline store named by DATABASE_URL.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/task-timeline/internal/persistence/postgres"
	"github.com/adiadia/task-timeline/internal/persistence/sqlite"
	"github.com/adiadia/task-timeline/internal/repository"
	"github.com/adiadia/task-timeline/migrations"
)

type HealthChecker interface {
	Check(ctx context.Context) error
}

// Backend bundles an opened store with its readiness check.
type Backend struct {
	Dialect migrations.Dialect
	Store   repository.Store
	Health  HealthChecker
	close   func() error
}

func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to Postgres or SQLite and, when autoMigrate is set, applies
// pending migrations before returning.
func Open(ctx context.Context, databaseURL string, autoMigrate bool, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path, ok := sqlite.PathFromURL(databaseURL); ok {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		if autoMigrate {
			if err := sqlite.EnsureSchema(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlite schema bootstrap: %w", err)
			}
		}
		logger.Info("store opened", "dialect", migrations.SQLite, "path", path)
		return &Backend{
			Dialect: migrations.SQLite,
			Store:   repository.NewSQLiteTimelineRepository(db, logger),
			Health:  sqlite.NewSchemaHealthChecker(db),
			close:   db.Close,
		}, nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema bootstrap: %w", err)
		}
	}
	logger.Info("store opened", "dialect", migrations.Postgres)
	return &Backend{
		Dialect: migrations.Postgres,
		Store:   repository.NewTimelineRepository(pool, logger),
		Health:  postgres.NewSchemaHealthChecker(pool),
		close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}
