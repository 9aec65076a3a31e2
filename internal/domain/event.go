// SPDX-License-Identifier: Apache-2.0

package domain

import "strings"

// TaskState is the lowercased state word a runtime thread logs when a task
// changes state.
type TaskState string

const (
	StateAllocated   TaskState = "allocated"
	StateReady       TaskState = "ready"
	StateFetching    TaskState = "fetching"
	StateFetched     TaskState = "fetched"
	StateExecuting   TaskState = "executing"
	StateCompleted   TaskState = "completed"
	StateDeallocated TaskState = "deallocated"
)

var knownStates = []TaskState{
	StateAllocated,
	StateReady,
	StateFetching,
	StateFetched,
	StateExecuting,
	StateCompleted,
	StateDeallocated,
}

// KnownStates lists the runtime's state vocabulary in lifecycle order.
func KnownStates() []TaskState {
	out := make([]TaskState, len(knownStates))
	copy(out, knownStates)
	return out
}

func (s TaskState) Known() bool {
	for _, known := range knownStates {
		if s == known {
			return true
		}
	}
	return false
}

// Phase is the coarse classification used when pairing events into intervals.
type Phase int

const (
	PhaseOther Phase = iota
	PhaseExecuting
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseExecuting:
		return "EXECUTING"
	case PhaseCompleted:
		return "COMPLETED"
	default:
		return "OTHER"
	}
}

// NormalizeState lowercases and trims a raw state word.
func NormalizeState(raw string) TaskState {
	return TaskState(strings.ToLower(strings.TrimSpace(raw)))
}

func (s TaskState) Phase() Phase {
	switch s {
	case StateExecuting:
		return PhaseExecuting
	case StateCompleted:
		return PhaseCompleted
	default:
		return PhaseOther
	}
}

// Event is one parsed task lifecycle line.
type Event struct {
	Time  float64   `json:"time"`
	TID   int       `json:"tid"`
	Label string    `json:"label"`
	Addr  string    `json:"addr"`
	State TaskState `json:"state"`
}
