// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/google/uuid"
)

type TimelineCreator interface {
	CreateTimeline(ctx context.Context, params domain.CreateTimelineParams) (domain.TimelineRecord, bool, error)
}

type TimelineReader interface {
	GetTimeline(ctx context.Context, id uuid.UUID) (domain.TimelineRecord, error)
	ListTimelines(ctx context.Context, limit int) ([]domain.TimelineRecord, error)
	ListEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error)
	ListIntervals(ctx context.Context, id uuid.UUID) ([]domain.Interval, error)
}

type TimelineStore interface {
	TimelineCreator
	TimelineReader
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
