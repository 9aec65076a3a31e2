//go:build integration

// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// tempDatabase creates a throwaway database next to DATABASE_URL and returns
// a pool connected to it. The database is dropped when the test ends.
func tempDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	baseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if baseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	admin, err := pgxpool.New(ctx, baseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create admin pool (%v)", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	name := "timeline_mig_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		admin.Close()
		t.Skipf("skip integration test: cannot create database (%v)", err)
	}

	cfg, err := pgxpool.ParseConfig(baseURL)
	if err != nil {
		t.Fatalf("parse DATABASE_URL: %v", err)
	}
	cfg.ConnConfig.Database = name

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect temp database: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_, _ = admin.Exec(cleanupCtx,
			`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
			name,
		)
		if _, err := admin.Exec(cleanupCtx, "DROP DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
			t.Logf("cleanup warning: drop %s failed (%v)", name, err)
		}
		admin.Close()
	})

	return pool
}

func TestEnsureSchemaBootstrapsEmptyDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	pool := tempDatabase(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := SchemaReady(ctx, pool); err == nil || !strings.Contains(err.Error(), "timelines") {
		t.Fatalf("expected missing tables before bootstrap, got %v", err)
	}

	// api and worker usually start together; the advisory lock serializes them.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- EnsureSchema(ctx, pool, logger)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ensure schema: %v", err)
		}
	}

	if err := NewSchemaHealthChecker(pool).Check(ctx); err != nil {
		t.Fatalf("schema ready check: %v", err)
	}

	var recorded int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE checksum <> ''`).Scan(&recorded); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if recorded != 1 {
		t.Fatalf("expected 1 recorded migration with checksum, got %d", recorded)
	}

	timelines := repository.NewTimelineRepository(pool, logger)
	created, isNew, err := timelines.CreateTimeline(ctx, domain.CreateTimelineParams{
		Name:    "bootstrap-test",
		Format:  domain.FormatLog,
		Payload: []byte("payload"),
	})
	if err != nil {
		t.Fatalf("create timeline after bootstrap: %v", err)
	}
	if !isNew || created.Status != domain.TimelinePending {
		t.Fatalf("expected a new PENDING timeline, got new=%v status=%s", isNew, created.Status)
	}
}

func TestSchemaReadyReportsMissingColumn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	pool := tempDatabase(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := EnsureSchema(ctx, pool, logger); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `ALTER TABLE timelines DROP COLUMN interval_count`); err != nil {
		t.Fatalf("drop column: %v", err)
	}

	err := SchemaReady(ctx, pool)
	if err == nil || !strings.Contains(err.Error(), "timelines.interval_count") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestEnsureSchemaRejectsModifiedMigration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	pool := tempDatabase(t, ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := EnsureSchema(ctx, pool, logger); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE schema_migrations SET checksum = 'stale'`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}

	if err := EnsureSchema(ctx, pool, logger); err == nil {
		t.Fatal("expected checksum drift to fail the bootstrap")
	}
}
