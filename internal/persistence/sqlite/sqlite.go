// SPDX-License-Identifier: Apache-2.0

// Package sqlite opens the single-node SQLite store and applies its embedded
// migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	embeddedmigrations "github.com/adiadia/task-timeline/migrations"

	_ "modernc.org/sqlite"
)

var requiredTables = []string{
	"timelines",
	"task_events",
	"task_intervals",
}

// PathFromURL reports whether databaseURL selects SQLite and returns the
// database path. "sqlite:" and "sqlite://" prefixes and a ".db" suffix all
// select SQLite; ":memory:" is passed through.
func PathFromURL(databaseURL string) (string, bool) {
	raw := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return strings.TrimPrefix(raw, "sqlite://"), true
	case strings.HasPrefix(raw, "sqlite:"):
		return strings.TrimPrefix(raw, "sqlite:"), true
	case strings.HasSuffix(raw, ".db"), raw == ":memory:":
		return raw, true
	default:
		return "", false
	}
}

// Open opens path with foreign keys enabled. The pool is pinned to one
// connection: SQLite serializes writers anyway and ":memory:" databases are
// per connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty sqlite path")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

// EnsureSchema applies pending SQLite migrations in order, recording each in
// schema_migrations with its checksum.
func EnsureSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if db == nil {
		return errors.New("nil sqlite database")
	}
	if logger == nil {
		logger = slog.Default()
	}

	files, err := embeddedmigrations.Ordered(embeddedmigrations.SQLite)
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	started := time.Now()

	applied, err := loadApplied(ctx, db)
	if err != nil {
		return err
	}
	pending, err := embeddedmigrations.Pending(files, applied)
	if err != nil {
		return err
	}

	for _, file := range pending {
		if err := applyMigration(ctx, db, file); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.Name, err)
		}
		logger.Info("migration applied", "file", file.Name, "dialect", embeddedmigrations.SQLite)
	}

	logger.Info("schema bootstrap complete",
		"dialect", embeddedmigrations.SQLite,
		"applied", len(pending),
		"skipped", len(files)-len(pending),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return SchemaReady(ctx, db)
}

func loadApplied(ctx context.Context, db *sql.DB) (map[string]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migrations: %w", err)
		}
		applied[name] = sum
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, file embeddedmigrations.File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, file.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (filename, checksum) VALUES (?, ?)`,
		file.Name, file.Checksum,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaReady reports an error naming any missing table.
func SchemaReady(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("nil sqlite database")
	}

	missing := make([]string, 0, len(requiredTables))
	for _, table := range requiredTables {
		var n int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`,
			table,
		).Scan(&n); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SchemaHealthChecker backs the readiness probe.
type SchemaHealthChecker struct {
	db *sql.DB
}

func NewSchemaHealthChecker(db *sql.DB) *SchemaHealthChecker {
	return &SchemaHealthChecker{db: db}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.db)
}
