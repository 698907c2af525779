// Package logger provides the process-wide logging facade used by the CLI and
// the engine components.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Fields holds structured log fields.
type Fields map[string]interface{}

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, zerolog.InfoLevel)
)

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// InitLogger initializes the global logger for CLI operations.
func InitLogger(logLevel string) {
	var level zerolog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(os.Stderr, level)
}

// SetOutput redirects log output, primarily for capturing logs in tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, logger.GetLevel())
}

func get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Info logs an info message.
func Info(msg string, fields ...Fields) {
	l := get()
	l.Info().Fields(mergeFields(fields...)).Msg(msg)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	l := get()
	l.Info().Msg(fmt.Sprintf(format, args...))
}

// Debug logs a debug message (only shown when debug level is enabled).
func Debug(msg string, fields ...Fields) {
	l := get()
	l.Debug().Fields(mergeFields(fields...)).Msg(msg)
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	l := get()
	l.Debug().Msg(fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func Warn(msg string, fields ...Fields) {
	l := get()
	l.Warn().Fields(mergeFields(fields...)).Msg(msg)
}

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) {
	l := get()
	l.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error logs an error message.
func Error(msg string, fields ...Fields) {
	l := get()
	l.Error().Fields(mergeFields(fields...)).Msg(msg)
}

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) {
	l := get()
	l.Error().Msg(fmt.Sprintf(format, args...))
}

// mergeFields merges multiple field maps into one map for zerolog.
func mergeFields(fields ...Fields) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	result := make(map[string]interface{})
	for _, field := range fields {
		for k, v := range field {
			result[k] = v
		}
	}
	return result
}
