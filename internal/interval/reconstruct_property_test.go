//go:build property
// +build property

// SPDX-License-Identifier: Apache-2.0

package interval

import (
	"math"
	"reflect"
	"testing"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyStates = []domain.TaskState{
	domain.StateReady,
	domain.StateExecuting,
	domain.StateCompleted,
}

var nonFinite = []float64{math.NaN(), math.Inf(1), math.Inf(-1)}

func genTime() gopter.Gen {
	return gen.Weighted([]gen.WeightedGen{
		{Weight: 9, Gen: gen.Float64Range(0, 100)},
		{Weight: 1, Gen: gen.IntRange(0, len(nonFinite)-1).Map(func(i int) float64 {
			return nonFinite[i]
		})},
	})
}

func genEvents() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(domain.Event{}), map[string]gopter.Gen{
		"Time":  genTime(),
		"TID":   gen.IntRange(1, 4),
		"Label": gen.OneConstOf("a", "b", "c"),
		"Addr":  gen.OneConstOf("0x1", "0x2", "0x3"),
		"State": gen.IntRange(0, len(propertyStates)-1).Map(func(i int) domain.TaskState {
			return propertyStates[i]
		}),
	}))
}

// TestIntervalsNeverInverted checks End >= Start for any event sequence.
func TestIntervalsNeverInverted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every interval ends at or after its start", prop.ForAll(
		func(events []domain.Event) bool {
			got, _ := Reconstruct(events)
			for _, iv := range got {
				if !(iv.End >= iv.Start) {
					return false
				}
			}
			return true
		},
		genEvents(),
	))

	properties.TestingRun(t)
}

// TestEventsAccountedFor checks that every executing and completed event is
// either part of an interval or counted in the stats.
func TestEventsAccountedFor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("pairing conserves events", prop.ForAll(
		func(events []domain.Event) bool {
			var starts, ends, other int
			for _, e := range events {
				switch e.State.Phase() {
				case domain.PhaseExecuting:
					starts++
				case domain.PhaseCompleted:
					ends++
				default:
					other++
				}
			}

			got, stats := Reconstruct(events)
			if starts != len(got)+stats.Inverted+stats.Pending {
				return false
			}
			if ends != len(got)+stats.Inverted+stats.Unmatched {
				return false
			}
			return other == stats.Ignored
		},
		genEvents(),
	))

	properties.TestingRun(t)
}
