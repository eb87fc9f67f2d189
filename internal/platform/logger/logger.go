package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger writing to stdout. Services receive the
// logger by injection so tests can swap in slog.New(slog.DiscardHandler).
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
