// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adiadia/task-timeline/internal/compress"
	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/adiadia/task-timeline/internal/gantt"
	"github.com/adiadia/task-timeline/internal/metrics"
	"github.com/adiadia/task-timeline/internal/table"
	"github.com/adiadia/task-timeline/internal/timeline"
	"github.com/adiadia/task-timeline/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	defaultMaxUpload     = 64 << 20
	defaultRatePerMin    = 60
)

var (
	errEmptyUpload       = errors.New("empty upload")
	errUnsupportedCoding = errors.New("unsupported content encoding")
)

type Deps struct {
	Store            TimelineStore
	Health           HealthChecker
	Logger           *slog.Logger
	IngestToken      string
	UploadRatePerMin int
	MaxUploadBytes   int64
	Version          string
	Commit           string
	BuildDate        string
}

type createTimelineResponse struct {
	TimelineID string                `json:"timeline_id"`
	Status     domain.TimelineStatus `json:"status"`
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	ratePerMin := deps.UploadRatePerMin
	if ratePerMin <= 0 {
		ratePerMin = defaultRatePerMin
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- TIMELINES ----------------

	r.Route("/timelines", func(r chi.Router) {
		// ---------------- UPLOAD ----------------

		r.With(
			middleware.IngestTokenAuth(deps.IngestToken, logger),
			middleware.RateLimit(ratePerMin, logger),
		).Post("/", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			format, err := domain.ParseSourceFormat(strings.TrimSpace(q.Get("format")))
			if err != nil {
				http.Error(w, "unsupported format", http.StatusBadRequest)
				return
			}

			webhookURL, err := validateWebhookURL(q.Get("webhook_url"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			payload, err := readUpload(w, r, maxUpload)
			if err != nil {
				var tooLarge *http.MaxBytesError
				switch {
				case errors.As(err, &tooLarge), errors.Is(err, compress.ErrTooLarge):
					http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
				case errors.Is(err, errUnsupportedCoding):
					http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
				case errors.Is(err, errEmptyUpload):
					http.Error(w, "empty upload", http.StatusBadRequest)
				default:
					logger.Warn("read upload failed", "error", err)
					http.Error(w, "invalid upload body", http.StatusBadRequest)
				}
				return
			}

			record, created, err := deps.Store.CreateTimeline(r.Context(), domain.CreateTimelineParams{
				Name:           strings.TrimSpace(q.Get("name")),
				Format:         format,
				Payload:        payload,
				WebhookURL:     webhookURL,
				IdempotencyKey: strings.TrimSpace(r.Header.Get(headerIdempotencyKey)),
			})
			if err != nil {
				logger.Error("create timeline failed", "error", err)
				http.Error(w, "failed to create timeline", http.StatusInternalServerError)
				return
			}

			status := http.StatusOK
			if created {
				status = http.StatusAccepted
				metrics.IncTimelineStatus(domain.TimelinePending)
				logger.Info("timeline uploaded via API",
					"timeline_id", record.ID,
					"format", format,
					"compressed_bytes", len(payload),
				)
			}

			w.Header().Set("Location", "/timelines/"+record.ID.String())
			writeJSON(w, status, createTimelineResponse{
				TimelineID: record.ID.String(),
				Status:     record.Status,
			})
		})

		// ---------------- LIST ----------------

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}

			records, err := deps.Store.ListTimelines(r.Context(), limit)
			if err != nil {
				logger.Error("list timelines failed", "error", err)
				http.Error(w, "failed to list timelines", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"timelines": records,
			})
		})

		// ---------------- GET ----------------

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			record, ok := lookupTimeline(w, r, deps.Store, logger)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, record)
		})

		// ---------------- EVENTS ----------------

		r.Get("/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			record, ok := lookupReadyTimeline(w, r, deps.Store, logger)
			if !ok {
				return
			}

			events, err := deps.Store.ListEvents(r.Context(), record.ID)
			if err != nil {
				logger.Error("list events failed", "timeline_id", record.ID, "error", err)
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				TimelineID string         `json:"timeline_id"`
				Events     []domain.Event `json:"events"`
			}{
				TimelineID: record.ID.String(),
				Events:     events,
			})
		})

		// ---------------- INTERVALS ----------------

		r.Get("/{id}/intervals", func(w http.ResponseWriter, r *http.Request) {
			record, intervals, ok := loadIntervals(w, r, deps.Store, logger)
			if !ok {
				return
			}

			writeJSON(w, http.StatusOK, struct {
				TimelineID string            `json:"timeline_id"`
				Intervals  []domain.Interval `json:"intervals"`
				Summary    timeline.Summary  `json:"summary"`
			}{
				TimelineID: record.ID.String(),
				Intervals:  intervals,
				Summary:    timeline.Summarize(intervals),
			})
		})

		// ---------------- TABLE ----------------

		r.Get("/{id}/table", func(w http.ResponseWriter, r *http.Request) {
			record, ok := lookupReadyTimeline(w, r, deps.Store, logger)
			if !ok {
				return
			}

			events, err := deps.Store.ListEvents(r.Context(), record.ID)
			if err != nil {
				logger.Error("list events failed", "timeline_id", record.ID, "error", err)
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}

			var buf bytes.Buffer
			if err := table.Write(&buf, events); err != nil {
				logger.Error("write table failed", "timeline_id", record.ID, "error", err)
				http.Error(w, "failed to render table", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.ID.String()+".table"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(buf.Bytes())
		})

		// ---------------- GANTT ----------------

		renderChart := func(format gantt.Format) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				record, intervals, ok := loadIntervals(w, r, deps.Store, logger)
				if !ok {
					return
				}

				title := record.Name
				if title == "" {
					title = "Timeline " + record.ID.String()
				}
				chart := gantt.NewChart(intervals, gantt.Options{Title: title})

				var buf bytes.Buffer
				if err := gantt.Render(&buf, format, chart); err != nil {
					logger.Error("render gantt failed", "timeline_id", record.ID, "error", err)
					http.Error(w, "failed to render chart", http.StatusInternalServerError)
					return
				}

				w.Header().Set("Content-Type", format.ContentType())
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(buf.Bytes())
			}
		}

		r.Get("/{id}/gantt.svg", renderChart(gantt.FormatSVG))
		r.Get("/{id}/gantt", renderChart(gantt.FormatHTML))
	})

	return r
}

// readUpload returns the zstd-compressed upload body. Bodies sent with
// Content-Encoding: zstd are verified and stored as received.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, errEmptyUpload
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		return nil, err
	}

	switch coding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); coding {
	case "":
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, errEmptyUpload
		}
		return compress.Encode(body)
	case "zstd":
		raw, err := compress.DecodeLimited(body, maxBytes)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, errEmptyUpload
		}
		return body, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedCoding, coding)
	}
}

func validateWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("invalid webhook_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported webhook_url scheme")
	}
	return raw, nil
}

func lookupTimeline(w http.ResponseWriter, r *http.Request, store TimelineReader, logger *slog.Logger) (domain.TimelineRecord, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid timeline ID", http.StatusBadRequest)
		return domain.TimelineRecord{}, false
	}

	record, err := store.GetTimeline(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTimelineNotFound) {
			logger.Warn("timeline not found", "timeline_id", id)
			http.Error(w, "timeline not found", http.StatusNotFound)
			return domain.TimelineRecord{}, false
		}
		logger.Error("get timeline failed", "timeline_id", id, "error", err)
		http.Error(w, "failed to get timeline", http.StatusInternalServerError)
		return domain.TimelineRecord{}, false
	}

	return record, true
}

// lookupReadyTimeline answers 409 with the current status for timelines the
// worker has not finished.
func lookupReadyTimeline(w http.ResponseWriter, r *http.Request, store TimelineReader, logger *slog.Logger) (domain.TimelineRecord, bool) {
	record, ok := lookupTimeline(w, r, store, logger)
	if !ok {
		return domain.TimelineRecord{}, false
	}
	if record.Status != domain.TimelineReady {
		writeJSON(w, http.StatusConflict, map[string]string{
			"timeline_id": record.ID.String(),
			"status":      string(record.Status),
			"error":       record.Error,
		})
		return domain.TimelineRecord{}, false
	}
	return record, true
}

func loadIntervals(w http.ResponseWriter, r *http.Request, store TimelineReader, logger *slog.Logger) (domain.TimelineRecord, []domain.Interval, bool) {
	record, ok := lookupReadyTimeline(w, r, store, logger)
	if !ok {
		return domain.TimelineRecord{}, nil, false
	}

	intervals, err := store.ListIntervals(r.Context(), record.ID)
	if err != nil {
		logger.Error("list intervals failed", "timeline_id", record.ID, "error", err)
		http.Error(w, "failed to list intervals", http.StatusInternalServerError)
		return domain.TimelineRecord{}, nil, false
	}
	return record, intervals, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
