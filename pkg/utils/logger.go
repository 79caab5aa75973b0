package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// InitLogger configures the process logger. The level is read from
// FLOWPILOT_LOG_LEVEL (debug, info, warn, error) and defaults to info.
func InitLogger() {
	InitLoggerWithWriter(os.Stderr)
}

// InitLoggerWithWriter is InitLogger with an explicit destination, used by tests.
func InitLoggerWithWriter(w io.Writer) {
	SetLevel(os.Getenv("FLOWPILOT_LOG_LEVEL"))
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})

	loggerMu.Lock()
	logger = slog.New(handler)
	loggerMu.Unlock()
}

// GetLogger returns the process logger, initializing it on first use.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	InitLogger()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLevel changes the level of the process logger at runtime.
// Unknown or empty values select info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}
