// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeClockBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteRepo(t *testing.T) *SQLiteTimelineRepository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.EnsureSchema(ctx, db, logger))

	repo := NewSQLiteTimelineRepository(db, logger)

	// Strictly increasing clock so created_at ordering is deterministic.
	tick := 0
	repo.now = func() time.Time {
		tick++
		return fakeClockBase.Add(time.Duration(tick) * time.Millisecond)
	}
	return repo
}

func TestSQLiteTimelineRepositoryContract(t *testing.T) {
	repo := newSQLiteRepo(t)
	runStoreContract(t, &clockShiftedStore{Store: repo, shift: time.Since(fakeClockBase)})
}

func TestSQLiteTimelineRepositoryStoresEmptyResults(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	tl, created, err := repo.CreateTimeline(ctx, domain.CreateTimelineParams{Format: domain.FormatLog, Payload: []byte("no events")})
	require.NoError(t, err)
	require.True(t, created)

	record, err := repo.CompleteTimeline(ctx, tl.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TimelineReady, record.Status)
	assert.Zero(t, record.EventCount)

	events, err := repo.ListEvents(ctx, tl.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteTimelineRepositoryReplacesRowsOnRecompletion(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	tl, _, err := repo.CreateTimeline(ctx, domain.CreateTimelineParams{Format: domain.FormatLog, Payload: []byte("x")})
	require.NoError(t, err)

	first := []domain.Interval{{TID: 1, Label: "a", Addr: "0x1", Start: 0, End: 1}, {TID: 2, Label: "b", Addr: "0x2", Start: 1, End: 2}}
	_, err = repo.CompleteTimeline(ctx, tl.ID, nil, first)
	require.NoError(t, err)

	second := []domain.Interval{{TID: 3, Label: "c", Addr: "0x3", Start: 2, End: 4}}
	record, err := repo.CompleteTimeline(ctx, tl.ID, nil, second)
	require.NoError(t, err)
	assert.Equal(t, 1, record.IntervalCount)

	got, err := repo.ListIntervals(ctx, tl.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

// clockShiftedStore moves reclaim cutoffs into the repository's fake clock.
type clockShiftedStore struct {
	Store
	shift time.Duration
}

func (s *clockShiftedStore) ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedTimeline, error) {
	return s.Store.ClaimPending(ctx, reclaimBefore.Add(-s.shift))
}
