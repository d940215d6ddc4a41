package obs

import (
	"log/slog"
	"os"
)

// SetupLogger installs a slog default handler matching the requested
// format ("json" for production, "text" for local development) and level.
func SetupLogger(format, level string) {
	handler := newHandler(format, parseLevel(level))
	slog.SetDefault(slog.New(handler))
}

func newHandler(format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
