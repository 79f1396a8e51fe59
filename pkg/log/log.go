// Package log configures the process-wide slog handler used by every
// jobflow entrypoint, including the runtime hooks invoked from jobscripts.
package log

import (
	"log/slog"
	"os"
)

// Setup installs a text handler on stderr at the given level. Runtime
// hooks run with their output redirected into the per-task log file, so
// stderr is the only safe sink.
func Setup(logLevel string) *slog.Logger {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return logger
}

// WithModule returns a child of the default logger tagged with the
// originating module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
