// Package logging provides structured logging for the renderer using
// log/slog, with an optional rotating file sink via lumberjack.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelTrace is a custom level finer than slog.LevelDebug, used for the
// per-frame tracing that would otherwise flood the debug stream.
const LevelTrace = slog.Level(-8)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

var (
	rootLogger   *slog.Logger
	currentLevel = new(slog.LevelVar)
	loggerMu     sync.RWMutex
	initOnce     sync.Once
)

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			if name, exists := levelNames[level]; exists {
				a.Value = slog.StringValue(name)
			}
		}
	}
	return a
}

// Init sets up the default text logger on stderr at info level. Safe to
// call more than once; only the first call takes effect.
func Init() {
	initOnce.Do(func() {
		currentLevel.Set(slog.LevelInfo)
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: replaceAttr,
		})
		loggerMu.Lock()
		rootLogger = slog.New(handler)
		loggerMu.Unlock()
		slog.SetDefault(rootLogger)
	})
}

// SetLevel adjusts the verbosity of the shared level variable.
func SetLevel(level slog.Level) {
	currentLevel.Set(level)
}

// ForComponent returns a logger tagged with the given component, falling
// back to slog.Default() if Init has not run yet.
func ForComponent(component string) *slog.Logger {
	loggerMu.RLock()
	logger := rootLogger
	loggerMu.RUnlock()
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

// NewFileLogger builds a JSON logger writing to filePath through a
// lumberjack rotating writer, tagged with the given component. It returns
// the logger and a close function that stops rotation bookkeeping.
func NewFileLogger(filePath, component string, maxSizeMB, maxBackups, maxAgeDays int) (*slog.Logger, func() error, error) {
	dir := filepath.Dir(filePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory %q: %w", dir, err)
		}
	}

	writer := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: replaceAttr,
	})

	logger := slog.New(handler).With("component", component)
	return logger, writer.Close, nil
}
