// Package logging provides the process-wide structured logger.
// All output goes to stderr: the MCP stdio transport owns stdout.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	mu            sync.RWMutex
)

// Logger returns the process-wide logger, lazily initialised from
// environment variables:
//   - SIFT_LOG_LEVEL: debug|info|warn|error (default info)
//   - SIFT_LOG_FORMAT: "json" (default) or "text"
func Logger() *slog.Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = newLogger(os.Getenv("SIFT_LOG_LEVEL"), os.Getenv("SIFT_LOG_FORMAT"), os.Stderr)
	}
	return defaultLogger
}

// Setup configures the global logger from explicit settings, overriding
// whatever the environment produced. Called once config is loaded.
func Setup(level, format string) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = newLogger(level, format, os.Stderr)
}

// SetLogger overrides the global logger; mainly useful for tests.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// WithComponent attaches a component field to the shared logger.
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}

// ParseLevel maps a level name to a slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func newLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "sift")
}
