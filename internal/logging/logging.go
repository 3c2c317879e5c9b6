// Package logging builds the slog logger used by taskload.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures the logger
type Options struct {
	Level  string    `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string    `yaml:"format" default:"text" validate:"oneof=text json"`
	Output io.Writer `yaml:"-"`
}

// New creates a logger from the options. Output defaults to stderr so that
// the run summary on stdout stays clean.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ParseLevel maps a level name to a slog.Level, falling back to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
