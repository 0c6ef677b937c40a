package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

// Init initializes the global slog logger honoring the provided level
// string ("debug", "info", "warn", "error"). If level is empty the
// RIDECHAT_LOG_LEVEL env var is consulted; the default is info. The sink
// can be redirected to a file via RIDECHAT_LOG_SINK=file:/path/to/log.
func Init(level string) {
	sink := os.Getenv("RIDECHAT_LOG_SINK")
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("RIDECHAT_LOG_LEVEL")))
	}
	var lv slog.Level
	switch lvl {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lv}))
			return
		}
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func ensure() *slog.Logger {
	if Log == nil {
		Init("")
	}
	return Log
}

// Debug logs at debug level using the global logger.
func Debug(msg string, args ...any) { ensure().Debug(msg, args...) }

// Info logs at info level using the global logger.
func Info(msg string, args ...any) { ensure().Info(msg, args...) }

// Warn logs at warn level using the global logger.
func Warn(msg string, args ...any) { ensure().Warn(msg, args...) }

// Error logs at error level using the global logger.
func Error(msg string, args ...any) { ensure().Error(msg, args...) }
