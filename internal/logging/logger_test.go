// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: " INFO ", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Fatalf("ParseLevel(%q): expected %v got %v", tc.in, tc.want, got)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if !NewLogger("dev").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected LOG_LEVEL=debug to enable debug")
	}

	t.Setenv("LOG_LEVEL", "")
	if NewLogger("prod").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected info default")
	}
}

func TestNewLoggerHandlerByEnv(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	newLogger(&jsonBuf, " Production ", slog.LevelInfo).Info("timeline ready", "timeline_id", "abc")
	newLogger(&textBuf, "dev", slog.LevelInfo).Info("timeline ready", "timeline_id", "abc")

	if !strings.HasPrefix(jsonBuf.String(), "{") || !strings.Contains(jsonBuf.String(), `"timeline_id":"abc"`) {
		t.Fatalf("expected JSON record in prod, got %q", jsonBuf.String())
	}
	if strings.Contains(jsonBuf.String(), "source") {
		t.Fatalf("expected no source in prod, got %q", jsonBuf.String())
	}
	if !strings.Contains(textBuf.String(), "timeline_id=abc") || !strings.Contains(textBuf.String(), "source=") {
		t.Fatalf("expected text record with source in dev, got %q", textBuf.String())
	}
}

func TestNewCLILoggerDefaultsToWarn(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	logger := NewCLILogger(&buf)
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info to be disabled by default")
	}

	logger.Warn("lines skipped", "count", 3)
	if !strings.Contains(buf.String(), `"msg":"lines skipped"`) {
		t.Fatalf("expected JSON record, got %q", buf.String())
	}
}

func TestNewCLILoggerRespectsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	var buf bytes.Buffer
	if !NewCLILogger(&buf).Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug to be enabled")
	}
}
