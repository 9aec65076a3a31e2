// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type TimelineStatus string

const (
	TimelinePending    TimelineStatus = "PENDING"
	TimelineProcessing TimelineStatus = "PROCESSING"
	TimelineReady      TimelineStatus = "READY"
	TimelineFailed     TimelineStatus = "FAILED"
)

// SourceFormat names how an uploaded payload is encoded.
type SourceFormat string

const (
	FormatLog   SourceFormat = "log"
	FormatTable SourceFormat = "table"
	FormatJSON  SourceFormat = "json"
)

func ParseSourceFormat(raw string) (SourceFormat, error) {
	switch SourceFormat(raw) {
	case "":
		return FormatLog, nil
	case FormatLog, FormatTable, FormatJSON:
		return SourceFormat(raw), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

type CreateTimelineParams struct {
	Name           string
	Format         SourceFormat
	Payload        []byte // zstd-compressed upload
	WebhookURL     string
	IdempotencyKey string
}

type TimelineRecord struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Status        TimelineStatus `json:"status"`
	Format        SourceFormat   `json:"format"`
	Attempts      int            `json:"attempts"`
	Error         string         `json:"error,omitempty"`
	EventCount    int            `json:"event_count"`
	IntervalCount int            `json:"interval_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// ClaimedTimeline is a timeline handed to a worker for processing.
type ClaimedTimeline struct {
	ID         uuid.UUID
	Format     SourceFormat
	Payload    []byte
	Attempts   int
	WebhookURL string
	Reclaimed  bool
}
