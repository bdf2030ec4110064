// Package log is the process-wide structured logger. Call sites use the
// package-level helpers (Info, Warn, Error, ...) with alternating key/value
// pairs; output goes through log/slog.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	logger     atomic.Pointer[slog.Logger]
	loggerOnce sync.Once
	level      = new(slog.LevelVar)
)

func initLogger() {
	loggerOnce.Do(func() {
		level.Set(slog.LevelInfo)
		logger.CompareAndSwap(nil, newLogger(os.Stderr))
	})
}

func current() *slog.Logger {
	initLogger()
	return logger.Load()
}

func newLogger(w io.Writer) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", "daybook")
}

// SetLevel changes the minimum level. Unknown values leave INFO in place.
func SetLevel(l Level) {
	initLogger()
	level.Set(toSlog(l))
}

// ParseLevel maps a config string such as "debug" to a Level.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	initLogger()
	logger.Store(newLogger(w))
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	current().Error(msg, append([]any{"err", err}, kv...)...)
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
