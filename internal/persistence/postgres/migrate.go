// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/task-timeline/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x54544c5f4d494752 // "TTL_MIGR"

// requiredSchema lists, per table, the columns the store cannot run without.
var requiredSchema = map[string][]string{
	"timelines":      {"idempotency_key", "interval_count", "event_count"},
	"task_events":    {"event_time", "state"},
	"task_intervals": {"start_time", "end_time"},
}

// SchemaHealthChecker backs the readiness probe.
type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies pending migrations while holding a session advisory
// lock, so an api and a worker starting together bootstrap the schema once.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := embeddedmigrations.Ordered(embeddedmigrations.Postgres)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		// ctx may already be cancelled; the lock must still be released.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			logger.Error("schema bootstrap unlock failed", "error", err)
		}
	}()

	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}
	pending, err := embeddedmigrations.Pending(files, applied)
	if err != nil {
		return err
	}

	for _, file := range pending {
		if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, file.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
				file.Name, file.Checksum,
			)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
		logger.Info("migration applied", "file", file.Name, "dialect", embeddedmigrations.Postgres)
	}

	logger.Info("schema bootstrap complete",
		"dialect", embeddedmigrations.Postgres,
		"applied", len(pending),
		"skipped", len(files)-len(pending),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, pool)
}

func loadApplied(ctx context.Context, conn *pgxpool.Conn) (map[string]string, error) {
	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	applied := make(map[string]string)
	var name, sum string
	if _, err := pgx.ForEachRow(rows, []any{&name, &sum}, func() error {
		applied[name] = sum
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	return applied, nil
}

// SchemaReady returns an error naming every required table or column that is
// missing from the current schema.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	tables := make([]string, 0, len(requiredSchema))
	for table := range requiredSchema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name = ANY($1)
	`, tables)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	present := make(map[string]bool)
	var table, column string
	if _, err := pgx.ForEachRow(rows, []any{&table, &column}, func() error {
		present[table] = true
		present[table+"."+column] = true
		return nil
	}); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	var missingTables, missingColumns []string
	for _, table := range tables {
		if !present[table] {
			missingTables = append(missingTables, table)
			continue
		}
		for _, column := range requiredSchema[table] {
			if !present[table+"."+column] {
				missingColumns = append(missingColumns, table+"."+column)
			}
		}
	}

	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missingTables, ", "))
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missingColumns, ", "))
	}
	return nil
}
