// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adiadia/task-timeline/internal/compress"
	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/metrics"
	"github.com/adiadia/task-timeline/internal/timeline"
	"github.com/adiadia/task-timeline/internal/worker/decoders"
	"github.com/google/uuid"
)

// Queue is the part of the timeline store the worker drives.
type Queue interface {
	ClaimPending(ctx context.Context, reclaimBefore time.Time) (domain.ClaimedTimeline, error)
	CompleteTimeline(ctx context.Context, id uuid.UUID, events []domain.Event, intervals []domain.Interval) (domain.TimelineRecord, error)
	FailTimeline(ctx context.Context, id uuid.UUID, reason string, retry bool) (domain.TimelineRecord, error)
}

type Deps struct {
	Store         Queue
	Logger        *slog.Logger
	ReclaimAfter  time.Duration
	MaxAttempts   int
	HTTPClient    *http.Client
	WebhookSecret string
}

type Worker struct {
	store         Queue
	logger        *slog.Logger
	reclaimAfter  time.Duration
	maxAttempts   int
	decoders      map[domain.SourceFormat]Decoder
	httpClient    *http.Client
	webhookSecret string
	now           func() time.Time
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	reclaim := deps.ReclaimAfter
	if reclaim <= 0 {
		reclaim = 5 * time.Minute
	}

	maxAtt := deps.MaxAttempts
	if maxAtt <= 0 {
		maxAtt = 3
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	registry := map[domain.SourceFormat]Decoder{
		domain.FormatLog:   decoders.LogDecoder{},
		domain.FormatTable: decoders.TableDecoder{},
		domain.FormatJSON:  decoders.JSONDecoder{},
	}

	return &Worker{
		store:         deps.Store,
		logger:        l,
		reclaimAfter:  reclaim,
		maxAttempts:   maxAtt,
		decoders:      registry,
		httpClient:    client,
		webhookSecret: deps.WebhookSecret,
		now:           time.Now,
	}
}

// permanentError marks failures that another attempt cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Run polls for work until ctx is canceled.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 800 * time.Millisecond
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "poll_interval", pollInterval.String())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("worker process failed", "error", err)
			}
		}
	}
}

// ProcessOnce claims and processes at most one timeline. It returns nil when
// nothing was pending.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	claimStarted := time.Now()
	claimed, err := w.store.ClaimPending(ctx, w.now().Add(-w.reclaimAfter))
	metrics.ObserveWorkerClaimLatency(time.Since(claimStarted))
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingTimeline) {
			return nil
		}
		w.logger.Error("claim timeline failed", "error", err)
		return err
	}

	metrics.IncTimelineStatus(domain.TimelineProcessing)
	w.logger.Info("timeline claimed",
		"timeline_id", claimed.ID,
		"format", claimed.Format,
		"attempt", claimed.Attempts,
		"reclaimed", claimed.Reclaimed,
	)

	started := time.Now()
	res, procErr := w.process(ctx, claimed)
	metrics.ObserveProcessingDuration(time.Since(started))
	if procErr != nil {
		if ctx.Err() != nil {
			return w.release(ctx, claimed, procErr)
		}
		return w.markFailed(ctx, claimed, procErr)
	}

	record, err := w.store.CompleteTimeline(ctx, claimed.ID, res.Events, res.Intervals)
	if err != nil {
		if ctx.Err() != nil {
			return w.release(ctx, claimed, err)
		}
		w.logger.Error("store timeline failed", "timeline_id", claimed.ID, "error", err)
		return w.markFailed(ctx, claimed, fmt.Errorf("store timeline: %w", err))
	}

	metrics.IncTimelineStatus(domain.TimelineReady)
	w.logger.Info("timeline ready",
		"timeline_id", claimed.ID,
		"events", record.EventCount,
		"intervals", record.IntervalCount,
		"unmatched", res.Stats.Unmatched,
		"pending", res.Stats.Pending,
	)

	w.deliverTerminalWebhook(ctx, claimed.WebhookURL, record)
	return nil
}

func (w *Worker) process(ctx context.Context, c domain.ClaimedTimeline) (timeline.Result, error) {
	dec, ok := w.decoders[c.Format]
	if !ok {
		return timeline.Result{}, permanent(fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, c.Format))
	}

	raw, err := compress.Decode(c.Payload)
	if err != nil {
		return timeline.Result{}, permanent(fmt.Errorf("decompress payload: %w", err))
	}

	events, stats, err := dec.Decode(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return timeline.Result{}, err
		}
		return timeline.Result{}, permanent(fmt.Errorf("decode %s payload: %w", c.Format, err))
	}
	metrics.AddLogLines(stats.Matched, stats.Skipped)
	metrics.ObserveEvents(events)

	if stats.Skipped > 0 {
		w.logger.Debug("input entries skipped",
			"timeline_id", c.ID,
			"skipped", stats.Skipped,
			"lines", stats.Lines,
		)
	}

	res, err := timeline.Build(events)
	if err != nil {
		// No-data outcomes are properties of the upload, not transient.
		return timeline.Result{}, permanent(err)
	}
	metrics.ObserveIntervals(res.Intervals, res.Stats.Unmatched)

	return res, nil
}

// release hands a timeline interrupted by shutdown back to the queue. The
// store call outlives ctx so the row does not sit in PROCESSING until the
// reclaim window passes.
func (w *Worker) release(ctx context.Context, c domain.ClaimedTimeline, cause error) error {
	reason := fmt.Sprintf("interrupted: %v", cause)
	if _, err := w.store.FailTimeline(context.WithoutCancel(ctx), c.ID, reason, true); err != nil {
		w.logger.Error("release timeline failed", "timeline_id", c.ID, "error", err)
	} else {
		metrics.IncTimelineStatus(domain.TimelinePending)
		w.logger.Warn("timeline released", "timeline_id", c.ID, "error", cause)
	}
	return ctx.Err()
}

// markFailed requeues c while attempts remain and the cause is transient;
// otherwise the timeline is marked FAILED and the webhook fires.
func (w *Worker) markFailed(ctx context.Context, c domain.ClaimedTimeline, cause error) error {
	retry := !isPermanent(cause) && c.Attempts < w.maxAttempts

	record, err := w.store.FailTimeline(ctx, c.ID, cause.Error(), retry)
	if err != nil {
		w.logger.Error("record timeline failure failed", "timeline_id", c.ID, "error", err)
		return err
	}

	if retry {
		metrics.IncTimelineStatus(domain.TimelinePending)
		w.logger.Warn("timeline failed - retrying",
			"timeline_id", c.ID,
			"attempt", c.Attempts,
			"max_attempts", w.maxAttempts,
			"error", cause,
		)
		return nil
	}

	metrics.IncTimelineStatus(domain.TimelineFailed)
	w.logger.Error("timeline permanently failed",
		"timeline_id", c.ID,
		"attempts", c.Attempts,
		"permanent", isPermanent(cause),
		"error", cause,
	)

	w.deliverTerminalWebhook(ctx, c.WebhookURL, record)
	return nil
}
