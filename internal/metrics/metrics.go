// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	timelinesTotalCounter      *prometheus.CounterVec
	logLinesTotalCounter       *prometheus.CounterVec
	taskEventsTotalCounter     *prometheus.CounterVec
	intervalsTotalCounter      prometheus.Counter
	intervalDurationMetric     prometheus.Histogram
	unmatchedCompletionCounter prometheus.Counter
	processingDurationMetric   prometheus.Histogram
	workerClaimLatencyMetric   prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		timelinesTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timelines_total",
				Help: "Total number of timeline status transitions by status.",
			},
			[]string{"status"},
		)

		logLinesTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "log_lines_total",
				Help: "Total number of scanned log lines by result.",
			},
			[]string{"result"},
		)

		taskEventsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_events_total",
				Help: "Total number of parsed task events by state.",
			},
			[]string{"state"},
		)

		intervalsTotalCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "task_intervals_total",
				Help: "Total number of reconstructed executing intervals.",
			},
		)

		intervalDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_interval_duration_seconds",
				Help:    "Duration of reconstructed executing intervals in log time units.",
				Buckets: prometheus.ExponentialBuckets(1e-6, 10, 9),
			},
		)

		unmatchedCompletionCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "task_unmatched_completions_total",
				Help: "Total number of completed events without a pending executing event.",
			},
		)

		processingDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "timeline_processing_duration_seconds",
				Help:    "Duration of decoding and reconstructing one timeline in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		workerClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_claim_latency_seconds",
				Help:    "Latency of worker timeline claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			timelinesTotalCounter,
			logLinesTotalCounter,
			taskEventsTotalCounter,
			intervalsTotalCounter,
			intervalDurationMetric,
			unmatchedCompletionCounter,
			processingDurationMetric,
			workerClaimLatencyMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.TimelineStatus{
			domain.TimelinePending,
			domain.TimelineProcessing,
			domain.TimelineReady,
			domain.TimelineFailed,
		} {
			timelinesTotalCounter.WithLabelValues(string(status))
		}
		for _, result := range []string{"matched", "skipped"} {
			logLinesTotalCounter.WithLabelValues(result)
		}
		for _, state := range domain.KnownStates() {
			taskEventsTotalCounter.WithLabelValues(string(state))
		}
	})
}

func IncTimelineStatus(status domain.TimelineStatus) {
	Init()
	timelinesTotalCounter.WithLabelValues(string(status)).Inc()
}

func AddLogLines(matched, skipped int) {
	Init()
	logLinesTotalCounter.WithLabelValues("matched").Add(float64(matched))
	logLinesTotalCounter.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveEvents counts events by state. States outside the runtime's
// vocabulary share the "other" label to keep cardinality bounded.
func ObserveEvents(events []domain.Event) {
	Init()
	counts := make(map[string]int, 8)
	for _, ev := range events {
		label := "other"
		if ev.State.Known() {
			label = string(ev.State)
		}
		counts[label]++
	}
	for label, n := range counts {
		taskEventsTotalCounter.WithLabelValues(label).Add(float64(n))
	}
}

func ObserveIntervals(intervals []domain.Interval, unmatched int) {
	Init()
	intervalsTotalCounter.Add(float64(len(intervals)))
	for _, iv := range intervals {
		intervalDurationMetric.Observe(iv.Duration())
	}
	unmatchedCompletionCounter.Add(float64(unmatched))
}

func ObserveProcessingDuration(d time.Duration) {
	Init()
	processingDurationMetric.Observe(d.Seconds())
}

func ObserveWorkerClaimLatency(d time.Duration) {
	Init()
	workerClaimLatencyMetric.Observe(d.Seconds())
}
