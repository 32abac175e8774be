// Package logger configures structured logging on top of log/slog.
//
// Operational logging is distinct from the persisted activity log: the
// former is for operators running the process, the latter is the audit
// trail the admin surface reads.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"bouncer/internal/model"
)

// Setup builds a slog.Logger from the logging configuration, installs
// it as the process default, and returns it.
func Setup(cfg model.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(level string) slog.Level {
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
