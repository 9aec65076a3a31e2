// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRequestIDMiddlewareGeneratesAndPropagatesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotRequestID string
	h := requestIDMiddleware()(requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request_id in context")
		}
		gotRequestID = requestID
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/timelines", nil))

	respRequestID := rec.Header().Get(headerRequestID)
	if respRequestID == "" {
		t.Fatal("expected X-Request-Id response header")
	}
	if gotRequestID != respRequestID {
		t.Fatalf("expected context request_id %q got %q", respRequestID, gotRequestID)
	}
}

func TestRequestIDMiddlewarePreservesIncomingRequestID(t *testing.T) {
	h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestID, _ := requestIDFromContext(r.Context()); requestID != "req-fixed-id" {
			t.Fatalf("expected request_id req-fixed-id got %q", requestID)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "  req-fixed-id ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(headerRequestID); got != "req-fixed-id" {
		t.Fatalf("expected X-Request-Id req-fixed-id got %q", got)
	}
}

func TestRequestLoggingMiddlewareRecordsStatusAndTimelineID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Get("/timelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodGet, "/timelines/abc", nil)
	req.Header.Set(headerRequestID, "req-log")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	if entry["msg"] != "request completed" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusConflict) {
		t.Fatalf("expected status 409 got %v", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Fatalf("expected WARN for a 4xx answer got %v", entry["level"])
	}
	if entry["bytes"] != float64(len("busy\n")) {
		t.Fatalf("expected bytes %d got %v", len("busy\n"), entry["bytes"])
	}
	if entry["timeline_id"] != "abc" {
		t.Fatalf("expected timeline_id abc got %v", entry["timeline_id"])
	}
	if entry["request_id"] != "req-log" {
		t.Fatalf("expected request_id req-log got %v", entry["request_id"])
	}
}

func TestRequestIDMiddlewareReplacesInvalidID(t *testing.T) {
	h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLength+1), "tab\tid"} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(headerRequestID, bad)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get(headerRequestID)
		if got == bad || got == "" {
			t.Fatalf("expected %q to be replaced, got %q", bad, got)
		}
	}
}

func TestRequestLogLevel(t *testing.T) {
	cases := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{path: "/timelines", status: http.StatusAccepted, want: slog.LevelInfo},
		{path: "/healthz", status: http.StatusOK, want: slog.LevelDebug},
		{path: "/readyz", status: http.StatusServiceUnavailable, want: slog.LevelError},
		{path: "/timelines/x", status: http.StatusNotFound, want: slog.LevelWarn},
		{path: "/timelines", status: http.StatusInternalServerError, want: slog.LevelError},
	}

	for _, tc := range cases {
		if got := requestLogLevel(tc.path, tc.status); got != tc.want {
			t.Fatalf("requestLogLevel(%q, %d): expected %v got %v", tc.path, tc.status, tc.want, got)
		}
	}
}

func TestStatusRecorderUnwrapAllowsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	if err := http.NewResponseController(sr).Flush(); err != nil {
		t.Fatalf("flush through recorder: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("expected underlying writer to be flushed")
	}
}
