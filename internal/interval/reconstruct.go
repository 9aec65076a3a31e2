// SPDX-License-Identifier: Apache-2.0

// Package interval pairs task lifecycle events into execution intervals.
package interval

import (
	"sort"

	"github.com/adiadia/task-timeline/internal/domain"
)

// Stats describes the events that did not turn into intervals.
type Stats struct {
	Addresses int `json:"addresses"`
	Intervals int `json:"intervals"`
	// Unmatched counts completed events with no pending executing event.
	Unmatched int `json:"unmatched"`
	// Pending counts executing events never followed by a completion.
	Pending int `json:"pending"`
	// Inverted counts pairs dropped because the completion precedes the start.
	Inverted int `json:"inverted"`
	Ignored  int `json:"ignored"`
}

type pendingStart struct {
	start float64
	tid   int
	label string
}

// Reconstruct groups events by task address and pairs each completed event with
// the oldest pending executing event of the same address. The thread and label
// of an interval come from its executing event.
//
// Events are taken in file order; within an address they are stably sorted by
// time. Addresses are visited in ascending order.
func Reconstruct(events []domain.Event) ([]domain.Interval, Stats) {
	var stats Stats

	byAddr := make(map[string][]domain.Event, 64)
	for _, ev := range events {
		byAddr[ev.Addr] = append(byAddr[ev.Addr], ev)
	}

	addrs := make([]string, 0, len(byAddr))
	for addr := range byAddr {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	stats.Addresses = len(addrs)

	out := make([]domain.Interval, 0, len(events)/2)
	for _, addr := range addrs {
		group := byAddr[addr]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Time < group[j].Time
		})
		out = pairAddress(out, addr, group, &stats)
	}

	stats.Intervals = len(out)
	return out, stats
}

func pairAddress(out []domain.Interval, addr string, group []domain.Event, stats *Stats) []domain.Interval {
	// FIFO: head advances as completions consume the oldest start.
	queue := make([]pendingStart, 0, 4)
	head := 0

	for _, ev := range group {
		switch ev.State.Phase() {
		case domain.PhaseExecuting:
			queue = append(queue, pendingStart{start: ev.Time, tid: ev.TID, label: ev.Label})
		case domain.PhaseCompleted:
			if head == len(queue) {
				stats.Unmatched++
				continue
			}
			p := queue[head]
			head++
			// Negated so a NaN on either side is rejected.
			if !(ev.Time >= p.start) {
				stats.Inverted++
				continue
			}
			out = append(out, domain.Interval{
				TID:   p.tid,
				Label: p.label,
				Addr:  addr,
				Start: p.start,
				End:   ev.Time,
			})
		default:
			stats.Ignored++
		}
	}

	stats.Pending += len(queue) - head
	return out
}
