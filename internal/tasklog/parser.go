// SPDX-License-Identifier: Apache-2.0

// Package tasklog extracts task lifecycle events from runtime debug logs.
package tasklog

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/adiadia/task-timeline/internal/domain"
)

// maxLineBytes bounds a single log line. Runtime lines carry user task labels,
// so the default 64 KiB scanner limit is too small.
const maxLineBytes = 16 << 20

// linePattern matches lines such as
//
//	[12.500000] [TID=3] [XKRT] [DEBUG] task `foo` of addr `0x10` is now in state `executing`
//
// Whitespace between the timestamp and the TID marker is optional because the
// runtime omits it when stdout is not a terminal.
var linePattern = regexp.MustCompile(
	"(?i)\\[\\s*([0-9]+\\.[0-9]+)\\]\\s*\\[TID=(\\d+)\\].*?task\\s+`([^`]+)`\\s+of addr\\s+`(0x[0-9a-f]+)`\\s+is now in state\\s+`(\\w+)`",
)

// ScanStats counts what happened to the input while parsing.
type ScanStats struct {
	Lines   int `json:"lines"`
	Matched int `json:"matched"`
	Skipped int `json:"skipped"`
}

// ParseLine extracts one event from a log line. It reports false when the line
// does not carry a task state transition.
func ParseLine(line string) (domain.Event, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return domain.Event{}, false
	}

	t, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return domain.Event{}, false
	}
	tid, err := strconv.Atoi(m[2])
	if err != nil {
		return domain.Event{}, false
	}

	return domain.Event{
		Time:  t,
		TID:   tid,
		Label: m[3],
		Addr:  m[4],
		State: domain.NormalizeState(m[5]),
	}, true
}

// Parse reads r line by line and returns the events in file order. Lines that
// do not match are skipped; only read failures are returned as errors.
func Parse(r io.Reader) ([]domain.Event, ScanStats, error) {
	var stats ScanStats
	events := make([]domain.Event, 0, 256)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		stats.Lines++
		ev, ok := ParseLine(sc.Text())
		if !ok {
			stats.Skipped++
			continue
		}
		stats.Matched++
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("read log: %w", err)
	}

	return events, stats, nil
}
