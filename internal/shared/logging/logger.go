// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options tunes the handler behind a subsystem logger.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// New returns a slog.Logger configured for structured, JSON-oriented output on stderr.
// Stdout is left to the human-facing progress lines of the CLI.
func New(subsystem string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{AddSource: true})
	return slog.New(handler).With("subsystem", subsystem)
}

// NewWithOptions builds a subsystem logger honoring the configured level and format.
func NewWithOptions(subsystem string, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{AddSource: true, Level: level})
	case "text":
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", opts.Format)
	}
	return slog.New(handler).With("subsystem", subsystem), nil
}

// ParseLevel maps a textual level onto slog levels. Empty means info.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", value)
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
