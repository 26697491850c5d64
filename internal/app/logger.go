package app

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the app-wide logger type (slog).
type Logger = *slog.Logger

// NewLogger creates the chatd process logger: JSON on stdout, tagged with
// the service name, level from CHATD_LOG_LEVEL. Source locations are only
// recorded at debug level; they are noise in production logs.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	})

	log := slog.New(h).With("service", "chatd")
	slog.SetDefault(log)
	return log
}
