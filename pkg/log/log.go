// Package log configures the process-wide slog logger.
package log

import (
	"log/slog"
	"os"
)

func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule tags a logger with the module name and the shared service
// tag.
func WithModule(logger *slog.Logger, module string) *slog.Logger {
	return logger.With("module", module, "service", "flowmail")
}
