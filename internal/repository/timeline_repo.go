// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const timelineColumns = `id, name, status, source_format, attempts, COALESCE(error, ''),
	event_count, interval_count, created_at, updated_at, finished_at`

type TimelineRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*TimelineRepository)(nil)

func NewTimelineRepository(pool *pgxpool.Pool, logger *slog.Logger) *TimelineRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &TimelineRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *TimelineRepository) CreateTimeline(ctx context.Context, params domain.CreateTimelineParams) (domain.TimelineRecord, bool, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO timelines (id, name, status, source_format, payload, webhook_url, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+timelineColumns,
		id,
		params.Name,
		domain.TimelinePending,
		params.Format,
		params.Payload,
		nullableString(params.WebhookURL),
		nullableString(params.IdempotencyKey),
	)

	record, err := scanTimeline(row)
	if err == nil {
		r.logger.Info("timeline created", "timeline_id", record.ID, "format", record.Format)
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || params.IdempotencyKey == "" {
		r.logger.Error("insert timeline failed", "error", err)
		return domain.TimelineRecord{}, false, err
	}

	existing, err := scanTimeline(r.pool.QueryRow(ctx,
		`SELECT `+timelineColumns+` FROM timelines WHERE idempotency_key=$1`,
		params.IdempotencyKey,
	))
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

func (r *TimelineRepository) GetTimeline(ctx context.Context, id uuid.UUID) (domain.TimelineRecord, error) {
	record, err := scanTimeline(r.pool.QueryRow(ctx,
		`SELECT `+timelineColumns+` FROM timelines WHERE id=$1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TimelineRecord{}, domain.ErrTimelineNotFound
	}
	if err != nil {
		r.logger.Error("get timeline failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}
	return record, nil
}

func (r *TimelineRepository) ListTimelines(ctx context.Context, limit int) ([]domain.TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+timelineColumns+`
		FROM timelines
		ORDER BY created_at DESC
		LIMIT $1
	`, listLimit(limit))
	if err != nil {
		r.logger.Error("list timelines query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TimelineRecord, 0, 16)
	for rows.Next() {
		record, err := scanTimeline(rows)
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

func (r *TimelineRepository) ListEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tid, label, addr, event_time, state
		FROM task_events
		WHERE timeline_id=$1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		r.logger.Error("list events query failed", "timeline_id", id, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Event, 0, 64)
	for rows.Next() {
		var (
			ev    domain.Event
			state string
		)
		if err := rows.Scan(&ev.TID, &ev.Label, &ev.Addr, &ev.Time, &state); err != nil {
			r.logger.Error("scan event row failed", "timeline_id", id, "error", err)
			return nil, err
		}
		ev.State = domain.NormalizeState(state)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed", "timeline_id", id, "error", err)
		return nil, err
	}

	return out, nil
}

func (r *TimelineRepository) ListIntervals(ctx context.Context, id uuid.UUID) ([]domain.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tid, label, addr, start_time, end_time
		FROM task_intervals
		WHERE timeline_id=$1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		r.logger.Error("list intervals query failed", "timeline_id", id, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Interval, 0, 64)
	for rows.Next() {
		var iv domain.Interval
		if err := rows.Scan(&iv.TID, &iv.Label, &iv.Addr, &iv.Start, &iv.End); err != nil {
			r.logger.Error("scan interval row failed", "timeline_id", id, "error", err)
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// ClaimPending locks one claimable timeline with SKIP LOCKED so concurrent
// workers never process the same upload.
func (r *TimelineRepository) ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedTimeline, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.ClaimedTimeline{}, err
	}
	defer tx.Rollback(ctx)

	var (
		c          domain.ClaimedTimeline
		status     domain.TimelineStatus
		webhookURL *string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, source_format, payload, attempts, webhook_url, status
		FROM timelines
		WHERE status=$1
		   OR (status=$2 AND started_at IS NOT NULL AND started_at < $3)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`,
		domain.TimelinePending,
		domain.TimelineProcessing,
		reclaimBefore,
	).Scan(&c.ID, &c.Format, &c.Payload, &c.Attempts, &webhookURL, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimedTimeline{}, domain.ErrNoPendingTimeline
	}
	if err != nil {
		return domain.ClaimedTimeline{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE timelines
		SET status=$2,
		    started_at=NOW(),
		    attempts=attempts + 1,
		    updated_at=NOW()
		WHERE id=$1
	`, c.ID, domain.TimelineProcessing); err != nil {
		return domain.ClaimedTimeline{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ClaimedTimeline{}, err
	}

	c.Attempts++
	c.Reclaimed = status == domain.TimelineProcessing
	if webhookURL != nil {
		c.WebhookURL = *webhookURL
	}
	return c, nil
}

func (r *TimelineRepository) CompleteTimeline(
	ctx context.Context,
	id uuid.UUID,
	events []domain.Event,
	intervals []domain.Interval,
) (domain.TimelineRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.TimelineRecord{}, err
	}
	defer tx.Rollback(ctx)

	// A reclaimed timeline may already hold rows from an earlier attempt.
	if _, err := tx.Exec(ctx, `DELETE FROM task_events WHERE timeline_id=$1`, id); err != nil {
		return domain.TimelineRecord{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM task_intervals WHERE timeline_id=$1`, id); err != nil {
		return domain.TimelineRecord{}, err
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"task_events"},
		[]string{"timeline_id", "seq", "tid", "label", "addr", "event_time", "state"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			ev := events[i]
			return []any{id, i, ev.TID, ev.Label, ev.Addr, ev.Time, string(ev.State)}, nil
		}),
	); err != nil {
		r.logger.Error("copy task events failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"task_intervals"},
		[]string{"timeline_id", "seq", "tid", "label", "addr", "start_time", "end_time"},
		pgx.CopyFromSlice(len(intervals), func(i int) ([]any, error) {
			iv := intervals[i]
			return []any{id, i, iv.TID, iv.Label, iv.Addr, iv.Start, iv.End}, nil
		}),
	); err != nil {
		r.logger.Error("copy task intervals failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}

	record, err := scanTimeline(tx.QueryRow(ctx, `
		UPDATE timelines
		SET status=$2,
		    error=NULL,
		    event_count=$3,
		    interval_count=$4,
		    finished_at=NOW(),
		    updated_at=NOW()
		WHERE id=$1
		RETURNING `+timelineColumns,
		id,
		domain.TimelineReady,
		len(events),
		len(intervals),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TimelineRecord{}, domain.ErrTimelineNotFound
	}
	if err != nil {
		return domain.TimelineRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit timeline failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}

	return record, nil
}

func (r *TimelineRepository) FailTimeline(ctx context.Context, id uuid.UUID, reason string, retry bool) (domain.TimelineRecord, error) {
	status := domain.TimelineFailed
	if retry {
		status = domain.TimelinePending
	}

	record, err := scanTimeline(r.pool.QueryRow(ctx, `
		UPDATE timelines
		SET status=$2,
		    error=$3,
		    finished_at=CASE WHEN $2::text = 'FAILED' THEN NOW() ELSE NULL END,
		    updated_at=NOW()
		WHERE id=$1
		RETURNING `+timelineColumns,
		id,
		status,
		reason,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TimelineRecord{}, domain.ErrTimelineNotFound
	}
	if err != nil {
		r.logger.Error("fail timeline update failed", "timeline_id", id, "error", err)
		return domain.TimelineRecord{}, err
	}

	return record, nil
}

func scanTimeline(row pgx.Row) (domain.TimelineRecord, error) {
	var record domain.TimelineRecord
	err := row.Scan(
		&record.ID,
		&record.Name,
		&record.Status,
		&record.Format,
		&record.Attempts,
		&record.Error,
		&record.EventCount,
		&record.IntervalCount,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.FinishedAt,
	)
	return record, err
}
