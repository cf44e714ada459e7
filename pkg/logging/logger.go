package logging

import (
	"log/slog"
	"os"
)

// InitLogger builds the process-wide JSON logger. Source locations are
// attached only at debug level; they are noise at steady state.
func InitLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	})
	return slog.New(handler)
}

// NewComponentLogger tags every record with the emitting component so
// pipeline stages can be told apart in interleaved session logs.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", component))
}
