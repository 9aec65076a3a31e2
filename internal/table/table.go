// SPDX-License-Identifier: Apache-2.0

// Package table reads and writes the colon-separated event table exchanged
// between the log parser and the Gantt renderer:
//
//	tid:label:addr:time:state
//	3:foo:0x10:12.5:executing
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/adiadia/task-timeline/internal/compress"
	"github.com/adiadia/task-timeline/internal/domain"
)

const Separator = ':'

var Header = []string{"tid", "label", "addr", "time", "state"}

// ReadStats counts data rows seen and rows dropped as malformed.
type ReadStats struct {
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// Write emits the header followed by one row per event, in order.
func Write(w io.Writer, events []domain.Event) error {
	cw := csv.NewWriter(w)
	cw.Comma = Separator

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(Header))
	for _, ev := range events {
		row[0] = strconv.Itoa(ev.TID)
		row[1] = ev.Label
		row[2] = ev.Addr
		row[3] = strconv.FormatFloat(ev.Time, 'f', -1, 64)
		row[4] = string(domain.NormalizeState(string(ev.State)))
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

type columns struct {
	tid, label, addr, time, state int
}

func locateColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	get := func(name string) int {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
		}
		return i
	}

	c := columns{
		tid:   get("tid"),
		label: get("label"),
		addr:  get("addr"),
		time:  get("time"),
		state: get("state"),
	}
	if len(missing) > 0 {
		return columns{}, fmt.Errorf("table header missing columns: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

// Read parses a table. Columns are located by header name; rows that cannot
// be decoded are skipped and counted rather than failing the read.
func Read(r io.Reader) ([]domain.Event, ReadStats, error) {
	var stats ReadStats

	cr := csv.NewReader(r)
	cr.Comma = Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, nil
		}
		return nil, stats, fmt.Errorf("read header: %w", err)
	}
	cols, err := locateColumns(header)
	if err != nil {
		return nil, stats, err
	}
	width := len(header)

	events := make([]domain.Event, 0, 256)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Rows++
				stats.Skipped++
				continue
			}
			return nil, stats, fmt.Errorf("read table: %w", err)
		}

		stats.Rows++
		if len(rec) != width {
			stats.Skipped++
			continue
		}

		tid, err := strconv.Atoi(strings.TrimSpace(rec[cols.tid]))
		if err != nil {
			stats.Skipped++
			continue
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(rec[cols.time]), 64)
		if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
			stats.Skipped++
			continue
		}

		events = append(events, domain.Event{
			Time:  t,
			TID:   tid,
			Label: rec[cols.label],
			Addr:  rec[cols.addr],
			State: domain.NormalizeState(rec[cols.state]),
		})
	}

	return events, stats, nil
}

// Create opens path for writing, compressing with zstd when it ends in .zst.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !compress.IsCompressedPath(path) {
		return f, nil
	}

	w, err := compress.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd writer for %s: %w", path, err)
	}
	return w, nil
}

// Open opens path for reading, decompressing when it ends in .zst.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !compress.IsCompressedPath(path) {
		return f, nil
	}

	r, err := compress.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
	}
	return r, nil
}

// WriteFile writes events to path. A partially written file is removed.
func WriteFile(path string, events []domain.Event) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	if err := Write(w, events); err != nil {
		_ = w.Close()
		_ = os.Remove(path)
		return err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// ReadFile reads a table from path.
func ReadFile(path string) ([]domain.Event, ReadStats, error) {
	r, err := Open(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer r.Close()
	return Read(r)
}
