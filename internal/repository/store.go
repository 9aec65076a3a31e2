// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/google/uuid"
)

// DefaultListLimit bounds ListTimelines when the caller passes no limit.
const DefaultListLimit = 50

// Store persists uploaded timelines and their reconstructed rows. The
// Postgres and SQLite repositories both implement it.
type Store interface {
	// CreateTimeline inserts a PENDING timeline. When params carries an
	// idempotency key that was already used, the existing record is returned
	// with created=false.
	CreateTimeline(ctx context.Context, params domain.CreateTimelineParams) (record domain.TimelineRecord, created bool, err error)
	GetTimeline(ctx context.Context, id uuid.UUID) (domain.TimelineRecord, error)
	ListTimelines(ctx context.Context, limit int) ([]domain.TimelineRecord, error)
	ListEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error)
	ListIntervals(ctx context.Context, id uuid.UUID) ([]domain.Interval, error)

	// ClaimPending moves the oldest PENDING timeline, or a PROCESSING one
	// started before reclaimBefore, to PROCESSING and counts an attempt.
	// It returns domain.ErrNoPendingTimeline when there is nothing to do.
	ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedTimeline, error)
	// CompleteTimeline replaces the stored rows and marks the timeline READY.
	CompleteTimeline(ctx context.Context, id uuid.UUID, events []domain.Event, intervals []domain.Interval) (domain.TimelineRecord, error)
	// FailTimeline records reason and either requeues the timeline or marks
	// it FAILED.
	FailTimeline(ctx context.Context, id uuid.UUID, reason string, retry bool) (domain.TimelineRecord, error)
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
