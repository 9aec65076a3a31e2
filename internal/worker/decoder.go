// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/tasklog"
)

// Decoder turns a decompressed upload into events in input order.
type Decoder interface {
	Decode(ctx context.Context, raw []byte) ([]domain.Event, tasklog.ScanStats, error)
}
