// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// New creates a logger writing to stderr. Format "auto" picks text on a
// terminal and JSON when stderr is piped or captured by the journal.
func New(level, format string) *slog.Logger {
	return NewWriter(os.Stderr, level, format, isTerminal(os.Stderr))
}

// NewWriter creates a logger on w. tty decides the handler for format "auto".
func NewWriter(w io.Writer, level, format string, tty bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	switch resolveFormat(format, tty) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Init installs New's logger as the slog default and returns it.
func Init(level, format string) *slog.Logger {
	logger := New(level, format)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown strings default to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func resolveFormat(format string, tty bool) string {
	switch strings.ToLower(format) {
	case "json":
		return "json"
	case "text":
		return "text"
	}
	if tty {
		return "text"
	}
	return "json"
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
