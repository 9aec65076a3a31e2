// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/google/uuid"
)

// sqliteTimeLayout has fixed width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteTimelineRepository is the single-node store used when DATABASE_URL
// points at a SQLite file.
type SQLiteTimelineRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteTimelineRepository)(nil)

func NewSQLiteTimelineRepository(db *sql.DB, logger *slog.Logger) *SQLiteTimelineRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteTimelineRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (r *SQLiteTimelineRepository) stamp() string {
	return r.now().UTC().Format(sqliteTimeLayout)
}

func (r *SQLiteTimelineRepository) CreateTimeline(ctx context.Context, params domain.CreateTimelineParams) (domain.TimelineRecord, bool, error) {
	id := uuid.New()
	now := r.stamp()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO timelines (id, name, status, source_format, payload, webhook_url, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`,
		id.String(),
		params.Name,
		string(domain.TimelinePending),
		string(params.Format),
		params.Payload,
		nullableString(params.WebhookURL),
		nullableString(params.IdempotencyKey),
		now,
		now,
	)
	if err != nil {
		r.logger.Error("insert timeline failed", "error", err)
		return domain.TimelineRecord{}, false, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.TimelineRecord{}, false, err
	}

	if inserted == 1 {
		record, err := r.GetTimeline(ctx, id)
		if err != nil {
			return domain.TimelineRecord{}, false, err
		}
		r.logger.Info("timeline created", "timeline_id", record.ID, "format", record.Format)
		return record, true, nil
	}

	existing, err := r.queryOne(ctx, `WHERE idempotency_key = ?`, params.IdempotencyKey)
	if err != nil {
		r.logger.Error("resolve idempotent timeline failed",
			"idempotency_key", params.IdempotencyKey,
			"error", err,
		)
		return domain.TimelineRecord{}, false, err
	}

	r.logger.Info("timeline create idempotent", "timeline_id", existing.ID)
	return existing, false, nil
}

func (r *SQLiteTimelineRepository) GetTimeline(ctx context.Context, id uuid.UUID) (domain.TimelineRecord, error) {
	return r.queryOne(ctx, `WHERE id = ?`, id.String())
}

func (r *SQLiteTimelineRepository) ListTimelines(ctx context.Context, limit int) ([]domain.TimelineRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteTimelineColumns+` FROM timelines ORDER BY created_at DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		r.logger.Error("list timelines query failed", "error", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.TimelineRecord, 0, 16)
	for rows.Next() {
		record, err := scanSQLiteTimeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteTimelineRepository) ListEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tid, label, addr, event_time, state
		FROM task_events
		WHERE timeline_id = ?
		ORDER BY seq ASC
	`, id.String())
	if err != nil {
		r.logger.Error("list events query failed", "timeline_id", id, "error", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.Event, 0, 64)
	for rows.Next() {
		var (
			ev    domain.Event
			state string
		)
		if err := rows.Scan(&ev.TID, &ev.Label, &ev.Addr, &ev.Time, &state); err != nil {
			return nil, err
		}
		ev.State = domain.NormalizeState(state)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteTimelineRepository) ListIntervals(ctx context.Context, id uuid.UUID) ([]domain.Interval, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tid, label, addr, start_time, end_time
		FROM task_intervals
		WHERE timeline_id = ?
		ORDER BY seq ASC
	`, id.String())
	if err != nil {
		r.logger.Error("list intervals query failed", "timeline_id", id, "error", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.Interval, 0, 64)
	for rows.Next() {
		var iv domain.Interval
		if err := rows.Scan(&iv.TID, &iv.Label, &iv.Addr, &iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimPending selects a candidate and claims it with a guarded UPDATE.
// SQLite has no SKIP LOCKED; a concurrent claimer that wins the race makes
// the guard match nothing and this call reports no pending timeline.
func (r *SQLiteTimelineRepository) ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedTimeline, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ClaimedTimeline{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id     string
		status string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, status
		FROM timelines
		WHERE status = ?
		   OR (status = ? AND started_at IS NOT NULL AND started_at < ?)
		ORDER BY created_at ASC
		LIMIT 1
	`,
		string(domain.TimelinePending),
		string(domain.TimelineProcessing),
		reclaimBefore.UTC().Format(sqliteTimeLayout),
	).Scan(&id, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClaimedTimeline{}, domain.ErrNoPendingTimeline
	}
	if err != nil {
		return domain.ClaimedTimeline{}, err
	}

	now := r.stamp()
	var (
		c          domain.ClaimedTimeline
		format     string
		webhookURL sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE timelines
		SET status = ?,
		    attempts = attempts + 1,
		    started_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING source_format, payload, attempts, webhook_url
	`,
		string(domain.TimelineProcessing),
		now,
		now,
		id,
		status,
	).Scan(&format, &c.Payload, &c.Attempts, &webhookURL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClaimedTimeline{}, domain.ErrNoPendingTimeline
	}
	if err != nil {
		return domain.ClaimedTimeline{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ClaimedTimeline{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.ClaimedTimeline{}, fmt.Errorf("invalid timeline id in db: %w", err)
	}
	c.ID = parsed
	c.Format = domain.SourceFormat(format)
	c.WebhookURL = webhookURL.String
	c.Reclaimed = domain.TimelineStatus(status) == domain.TimelineProcessing
	return c, nil
}

func (r *SQLiteTimelineRepository) CompleteTimeline(
	ctx context.Context,
	id uuid.UUID,
	events []domain.Event,
	intervals []domain.Interval,
) (domain.TimelineRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimelineRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	key := id.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_events WHERE timeline_id = ?`, key); err != nil {
		return domain.TimelineRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_intervals WHERE timeline_id = ?`, key); err != nil {
		return domain.TimelineRecord{}, err
	}

	evStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_events (timeline_id, seq, tid, label, addr, event_time, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return domain.TimelineRecord{}, err
	}
	defer func() { _ = evStmt.Close() }()

	for i, ev := range events {
		if _, err := evStmt.ExecContext(ctx, key, i, ev.TID, ev.Label, ev.Addr, ev.Time, string(ev.State)); err != nil {
			r.logger.Error("insert task event failed", "timeline_id", id, "seq", i, "error", err)
			return domain.TimelineRecord{}, err
		}
	}

	ivStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_intervals (timeline_id, seq, tid, label, addr, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return domain.TimelineRecord{}, err
	}
	defer func() { _ = ivStmt.Close() }()

	for i, iv := range intervals {
		if _, err := ivStmt.ExecContext(ctx, key, i, iv.TID, iv.Label, iv.Addr, iv.Start, iv.End); err != nil {
			r.logger.Error("insert task interval failed", "timeline_id", id, "seq", i, "error", err)
			return domain.TimelineRecord{}, err
		}
	}

	now := r.stamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE timelines
		SET status = ?,
		    error = NULL,
		    event_count = ?,
		    interval_count = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ?
	`,
		string(domain.TimelineReady),
		len(events),
		len(intervals),
		now,
		now,
		key,
	)
	if err != nil {
		return domain.TimelineRecord{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.TimelineRecord{}, err
	} else if n == 0 {
		return domain.TimelineRecord{}, domain.ErrTimelineNotFound
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("commit timeline failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}

	return r.GetTimeline(ctx, id)
}

func (r *SQLiteTimelineRepository) FailTimeline(ctx context.Context, id uuid.UUID, reason string, retry bool) (domain.TimelineRecord, error) {
	status := domain.TimelineFailed
	var finishedAt *string
	now := r.stamp()
	if retry {
		status = domain.TimelinePending
	} else {
		finishedAt = &now
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE timelines
		SET status = ?,
		    error = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ?
	`,
		string(status),
		reason,
		finishedAt,
		now,
		id.String(),
	)
	if err != nil {
		r.logger.Error("fail timeline update failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.TimelineRecord{}, err
	} else if n == 0 {
		return domain.TimelineRecord{}, domain.ErrTimelineNotFound
	}

	return r.GetTimeline(ctx, id)
}

const sqliteTimelineColumns = `id, name, status, source_format, attempts, COALESCE(error, ''),
	event_count, interval_count, created_at, updated_at, finished_at`

func (r *SQLiteTimelineRepository) queryOne(ctx context.Context, where string, arg any) (domain.TimelineRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteTimelineColumns+` FROM timelines `+where, arg)
	record, err := scanSQLiteTimeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TimelineRecord{}, domain.ErrTimelineNotFound
	}
	return record, err
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTimeline(row sqlScanner) (domain.TimelineRecord, error) {
	var (
		record     domain.TimelineRecord
		id         string
		status     string
		format     string
		createdAt  string
		updatedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(
		&id,
		&record.Name,
		&status,
		&format,
		&record.Attempts,
		&record.Error,
		&record.EventCount,
		&record.IntervalCount,
		&createdAt,
		&updatedAt,
		&finishedAt,
	); err != nil {
		return domain.TimelineRecord{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.TimelineRecord{}, fmt.Errorf("invalid timeline id in db: %w", err)
	}
	record.ID = parsed
	record.Status = domain.TimelineStatus(status)
	record.Format = domain.SourceFormat(format)

	if record.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return domain.TimelineRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if record.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return domain.TimelineRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if finishedAt.Valid {
		ts, err := time.Parse(sqliteTimeLayout, finishedAt.String)
		if err != nil {
			return domain.TimelineRecord{}, fmt.Errorf("parse finished_at: %w", err)
		}
		record.FinishedAt = &ts
	}

	return record, nil
}
