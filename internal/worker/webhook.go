// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/google/uuid"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond

	webhookHeaderSig       = "X-Timeline-Signature"
	webhookHeaderTimestamp = "X-Timeline-Timestamp"
	webhookHeaderEvent     = "X-Timeline-Event"
)

type terminalWebhookPayload struct {
	TimelineID    uuid.UUID             `json:"timeline_id"`
	Status        domain.TimelineStatus `json:"status"`
	FinishedAt    time.Time             `json:"finished_at"`
	EventCount    int                   `json:"event_count"`
	IntervalCount int                   `json:"interval_count"`
	Attempts      int                   `json:"attempts"`
	Error         string                `json:"error,omitempty"`
}

// errWebhookRejected marks a 4xx answer that a retry would not change.
var errWebhookRejected = errors.New("webhook rejected")

// deliverTerminalWebhook posts the final state of a timeline to its webhook.
// 5xx answers, 408, 429 and transport errors are retried with exponential
// backoff; other failures end delivery. Nothing is reported back to the
// timeline itself.
func (w *Worker) deliverTerminalWebhook(ctx context.Context, webhookURL string, record domain.TimelineRecord) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" || w.httpClient == nil {
		return
	}

	log := w.logger.With("timeline_id", record.ID, "status", record.Status)

	finishedAt := w.now().UTC()
	if record.FinishedAt != nil {
		finishedAt = record.FinishedAt.UTC()
	}
	body, err := json.Marshal(terminalWebhookPayload{
		TimelineID:    record.ID,
		Status:        record.Status,
		FinishedAt:    finishedAt,
		EventCount:    record.EventCount,
		IntervalCount: record.IntervalCount,
		Attempts:      record.Attempts,
		Error:         record.Error,
	})
	if err != nil {
		log.Error("webhook payload marshal failed", "error", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		code, err := w.postWebhook(ctx, webhookURL, record.Status, body)
		if err == nil {
			log.Info("webhook delivered", "attempt", attempt, "response_status", code)
			return
		}
		lastErr = err
		log.Warn("webhook attempt failed", "attempt", attempt, "response_status", code, "error", err)

		if errors.Is(err, errWebhookRejected) || attempt == webhookRetryAttempts {
			break
		}

		timer := time.NewTimer(webhookRetryBase << (attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn("webhook canceled before retry", "attempt", attempt, "error", ctx.Err())
			return
		case <-timer.C:
		}
	}

	log.Error("webhook delivery gave up", "error", lastErr)
}

// postWebhook sends one signed delivery and returns the response status.
func (w *Worker) postWebhook(ctx context.Context, webhookURL string, status domain.TimelineStatus, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", errWebhookRejected, err)
	}

	timestamp := strconv.FormatInt(w.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookHeaderEvent, "timeline."+strings.ToLower(string(status)))
	req.Header.Set(webhookHeaderTimestamp, timestamp)
	if sig := signWebhookPayload(w.webhookSecret, timestamp, body); sig != "" {
		req.Header.Set(webhookHeaderSig, sig)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return code, nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return code, fmt.Errorf("webhook answered %d", code)
	default:
		return code, fmt.Errorf("%w: status %d", errWebhookRejected, code)
	}
}

// signWebhookPayload returns "sha256=<hex>" of HMAC-SHA256(secret,
// timestamp + "." + body), or "" when no secret is configured. Binding the
// timestamp lets receivers reject replays.
func signWebhookPayload(secret, timestamp string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
