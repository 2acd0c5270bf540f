package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	logger     *slog.Logger
	loggerMu   sync.RWMutex
	loggerOnce sync.Once
	minLevel   = new(slog.LevelVar)
)

// initLogger installs the default stderr handler on first use.
func initLogger() {
	loggerOnce.Do(func() {
		minLevel.Set(slog.LevelInfo)
		setHandler(os.Stderr, false)
	})
}

func setHandler(w io.Writer, noColor bool) {
	h := tint.NewHandler(w, &tint.Options{
		Level:      minLevel,
		TimeFormat: time.RFC3339Nano,
		NoColor:    noColor,
	})
	loggerMu.Lock()
	logger = slog.New(h)
	loggerMu.Unlock()
}

// SetOutput redirects log output, e.g. to a buffer in tests. Colors are
// disabled for anything that is not the process stderr.
func SetOutput(w io.Writer) {
	initLogger()
	setHandler(w, w != os.Stderr)
}

func SetLevel(l Level) {
	initLogger()
	minLevel.Set(l.slogLevel())
}

// ParseLevel maps a config/env string ("debug", "info", ...) to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) slogLevel() slog.Level {
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
	// err always goes first so it lines up across log lines.
	extended := append([]any{tint.Err(err)}, kv...)
	current().Error(msg, extended...)
}

func current() *slog.Logger {
	initLogger()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}
