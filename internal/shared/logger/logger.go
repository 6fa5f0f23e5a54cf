package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func New(app, env string) *slog.Logger {
	return NewWithLevel(os.Stdout, app, env, "info")
}

// NewWithLevel writes JSON lines to w. Unknown levels fall back to info.
func NewWithLevel(w io.Writer, app, env, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return slog.New(h).With(
		slog.String("app", app),
		slog.String("env", env),
	)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
