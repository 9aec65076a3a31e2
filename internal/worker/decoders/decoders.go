// SPDX-License-Identifier: Apache-2.0

// Package decoders holds the upload decoders the worker dispatches on by
// source format.
package decoders

import (
	"bytes"
	"context"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/table"
	"github.com/adiadia/task-timeline/internal/tasklog"
)

// LogDecoder reads raw runtime log output.
type LogDecoder struct{}

func (LogDecoder) Decode(ctx context.Context, raw []byte) ([]domain.Event, tasklog.ScanStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, tasklog.ScanStats{}, err
	}
	return tasklog.Parse(bytes.NewReader(raw))
}

// TableDecoder reads a colon-separated task table.
type TableDecoder struct{}

func (TableDecoder) Decode(ctx context.Context, raw []byte) ([]domain.Event, tasklog.ScanStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, tasklog.ScanStats{}, err
	}
	events, rs, err := table.Read(bytes.NewReader(raw))
	return events, tasklog.ScanStats{
		Lines:   rs.Rows,
		Matched: rs.Rows - rs.Skipped,
		Skipped: rs.Skipped,
	}, err
}

// JSONDecoder reads a JSON array or newline-delimited JSON events.
type JSONDecoder struct{}

func (JSONDecoder) Decode(ctx context.Context, raw []byte) ([]domain.Event, tasklog.ScanStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, tasklog.ScanStats{}, err
	}
	return tasklog.DecodeJSON(raw)
}
