// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers used by the service binaries and
// the command line tools.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const envLogLevel = "LOG_LEVEL"

// NewLogger returns the service logger writing to stdout. In prod it emits
// JSON; anywhere else it emits text with source locations.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env, levelFromEnv(slog.LevelInfo))
}

// NewCLILogger logs JSON to w, normally stderr, so that stdout carries only
// the messages a command prints for its user. LOG_LEVEL defaults to warn.
func NewCLILogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: levelFromEnv(slog.LevelWarn),
	}))
}

func newLogger(w io.Writer, env string, level slog.Level) *slog.Logger {
	if isProd(env) {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}))
}

func isProd(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func levelFromEnv(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(envLogLevel))
	if raw == "" {
		return fallback
	}
	return ParseLevel(raw)
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
