package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger. Services receive it by injection and
// attach request-scoped attributes themselves.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
