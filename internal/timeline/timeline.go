// SPDX-License-Identifier: Apache-2.0

// Package timeline turns parsed task events into a reconstructed timeline and
// applies the "no data" policy shared by the command line tools, the worker
// and the HTTP API.
package timeline

import (
	"sort"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/interval"
)

type ThreadSummary struct {
	TID       int     `json:"tid"`
	Intervals int     `json:"intervals"`
	Busy      float64 `json:"busy"`
}

type Summary struct {
	Threads []ThreadSummary `json:"threads"`
	Labels  []string        `json:"labels"`
	Start   float64         `json:"start"`
	End     float64         `json:"end"`
}

func (s Summary) Span() float64 {
	return s.End - s.Start
}

type Result struct {
	Events    []domain.Event    `json:"-"`
	Intervals []domain.Interval `json:"intervals"`
	Stats     interval.Stats    `json:"stats"`
	Summary   Summary           `json:"summary"`
}

// Build reconstructs intervals from events. It returns domain.ErrNoEvents for
// an empty input and domain.ErrNoIntervals when nothing pairs up; in the
// latter case the partial Result is still returned for diagnostics.
func Build(events []domain.Event) (Result, error) {
	if len(events) == 0 {
		return Result{}, domain.ErrNoEvents
	}

	intervals, stats := interval.Reconstruct(events)
	res := Result{
		Events:    events,
		Intervals: intervals,
		Stats:     stats,
	}
	if len(intervals) == 0 {
		return res, domain.ErrNoIntervals
	}

	res.Summary = Summarize(intervals)
	return res, nil
}

// Summarize computes per-thread busy time, the label set and the global span.
func Summarize(intervals []domain.Interval) Summary {
	if len(intervals) == 0 {
		return Summary{}
	}

	byTID := make(map[int]*ThreadSummary, 8)
	labels := make(map[string]struct{}, 8)
	s := Summary{Start: intervals[0].Start, End: intervals[0].End}

	for _, iv := range intervals {
		ts, ok := byTID[iv.TID]
		if !ok {
			ts = &ThreadSummary{TID: iv.TID}
			byTID[iv.TID] = ts
		}
		ts.Intervals++
		ts.Busy += iv.Duration()
		labels[iv.Label] = struct{}{}

		if iv.Start < s.Start {
			s.Start = iv.Start
		}
		if iv.End > s.End {
			s.End = iv.End
		}
	}

	s.Threads = make([]ThreadSummary, 0, len(byTID))
	for _, ts := range byTID {
		s.Threads = append(s.Threads, *ts)
	}
	sort.Slice(s.Threads, func(i, j int) bool {
		return s.Threads[i].TID < s.Threads[j].TID
	})

	s.Labels = make([]string, 0, len(labels))
	for l := range labels {
		s.Labels = append(s.Labels, l)
	}
	sort.Strings(s.Labels)

	return s
}
