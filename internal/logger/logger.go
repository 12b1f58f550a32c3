package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger. Debug level is enabled for dev
// environments.
func New(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
