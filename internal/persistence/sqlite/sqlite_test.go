// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathFromURL(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		sqlite bool
	}{
		{in: "sqlite:///var/lib/timeline.db", want: "/var/lib/timeline.db", sqlite: true},
		{in: "sqlite:timeline.db", want: "timeline.db", sqlite: true},
		{in: "data/timeline.db", want: "data/timeline.db", sqlite: true},
		{in: ":memory:", want: ":memory:", sqlite: true},
		{in: "postgres://u:p@localhost:5432/db", sqlite: false},
		{in: "", sqlite: false},
	}

	for _, tc := range cases {
		got, ok := PathFromURL(tc.in)
		if ok != tc.sqlite {
			t.Fatalf("PathFromURL(%q): expected sqlite=%v got %v", tc.in, tc.sqlite, ok)
		}
		if ok && got != tc.want {
			t.Fatalf("PathFromURL(%q): expected %q got %q", tc.in, tc.want, got)
		}
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(ctx, filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := SchemaReady(ctx, db); err == nil {
		t.Fatal("expected missing tables before bootstrap")
	}
	if err := EnsureSchema(ctx, db, logger); err != nil {
		t.Fatalf("ensure schema first run: %v", err)
	}
	if err := EnsureSchema(ctx, db, logger); err != nil {
		t.Fatalf("ensure schema second run: %v", err)
	}
	if err := NewSchemaHealthChecker(db).Check(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", applied)
	}
}

func TestEnsureSchemaDetectsModifiedMigration(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(ctx, filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := EnsureSchema(ctx, db, logger); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'stale'`); err != nil {
		t.Fatalf("tamper checksum: %v", err)
	}

	err = EnsureSchema(ctx, db, logger)
	if err == nil || !strings.Contains(err.Error(), "modified after it was applied") {
		t.Fatalf("expected checksum drift error, got %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
