// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract drives a Store through the full timeline lifecycle. Both
// backends must start from empty tables.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	a, created, err := store.CreateTimeline(ctx, domain.CreateTimelineParams{
		Name:           "first",
		Format:         domain.FormatLog,
		Payload:        []byte("payload-a"),
		WebhookURL:     "https://hooks.example.com/a",
		IdempotencyKey: "key-a",
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.TimelinePending, a.Status)
	assert.Equal(t, domain.FormatLog, a.Format)
	assert.Equal(t, 0, a.Attempts)
	assert.Nil(t, a.FinishedAt)

	again, created, err := store.CreateTimeline(ctx, domain.CreateTimelineParams{
		Format:         domain.FormatLog,
		Payload:        []byte("different"),
		IdempotencyKey: "key-a",
	})
	require.NoError(t, err)
	assert.False(t, created, "repeated idempotency key must not create a timeline")
	assert.Equal(t, a.ID, again.ID)

	b, created, err := store.CreateTimeline(ctx, domain.CreateTimelineParams{Format: domain.FormatTable, Payload: []byte("payload-b")})
	require.NoError(t, err)
	require.True(t, created)
	c, created, err := store.CreateTimeline(ctx, domain.CreateTimelineParams{Format: domain.FormatJSON, Payload: []byte("payload-c")})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, b.ID, c.ID)

	_, err = store.GetTimeline(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrTimelineNotFound)

	// Oldest first.
	claimed, err := store.ClaimPending(ctx, past)
	require.NoError(t, err)
	assert.Equal(t, a.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, []byte("payload-a"), claimed.Payload)
	assert.Equal(t, "https://hooks.example.com/a", claimed.WebhookURL)
	assert.False(t, claimed.Reclaimed)

	processing, err := store.GetTimeline(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TimelineProcessing, processing.Status)

	events := []domain.Event{
		{Time: 1, TID: 1, Label: "gemm", Addr: "0x10", State: domain.StateExecuting},
		{Time: 2.5, TID: 1, Label: "gemm", Addr: "0x10", State: domain.StateCompleted},
	}
	intervals := []domain.Interval{{TID: 1, Label: "gemm", Addr: "0x10", Start: 1, End: 2.5}}

	ready, err := store.CompleteTimeline(ctx, a.ID, events, intervals)
	require.NoError(t, err)
	assert.Equal(t, domain.TimelineReady, ready.Status)
	assert.Equal(t, 2, ready.EventCount)
	assert.Equal(t, 1, ready.IntervalCount)
	assert.NotNil(t, ready.FinishedAt)

	gotEvents, err := store.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, events, gotEvents)
	gotIntervals, err := store.ListIntervals(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, intervals, gotIntervals)

	// Retryable failure puts the timeline back in the queue.
	claimed, err = store.ClaimPending(ctx, past)
	require.NoError(t, err)
	require.Equal(t, b.ID, claimed.ID)

	requeued, err := store.FailTimeline(ctx, b.ID, "store unavailable", true)
	require.NoError(t, err)
	assert.Equal(t, domain.TimelinePending, requeued.Status)
	assert.Equal(t, "store unavailable", requeued.Error)
	assert.Nil(t, requeued.FinishedAt)

	claimed, err = store.ClaimPending(ctx, past)
	require.NoError(t, err)
	require.Equal(t, b.ID, claimed.ID)
	assert.Equal(t, 2, claimed.Attempts)

	failed, err := store.FailTimeline(ctx, b.ID, "no matching task entries found", false)
	require.NoError(t, err)
	assert.Equal(t, domain.TimelineFailed, failed.Status)
	assert.NotNil(t, failed.FinishedAt)

	claimed, err = store.ClaimPending(ctx, past)
	require.NoError(t, err)
	require.Equal(t, c.ID, claimed.ID)

	_, err = store.ClaimPending(ctx, past)
	require.ErrorIs(t, err, domain.ErrNoPendingTimeline)

	// A PROCESSING timeline older than the cutoff is reclaimed.
	reclaimed, err := store.ClaimPending(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, c.ID, reclaimed.ID)
	assert.True(t, reclaimed.Reclaimed)
	assert.Equal(t, 2, reclaimed.Attempts)

	list, err := store.ListTimelines(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, a.ID, list[2].ID)

	_, err = store.CompleteTimeline(ctx, uuid.New(), nil, nil)
	require.ErrorIs(t, err, domain.ErrTimelineNotFound)
	_, err = store.FailTimeline(ctx, uuid.New(), "gone", false)
	require.ErrorIs(t, err, domain.ErrTimelineNotFound)
}
