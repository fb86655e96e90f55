// Package logger provides the shared zerolog logger of the mapping engines.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the logging level.
type Level = zerolog.Level

// Log levels.
const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
	LevelNone  = zerolog.Disabled
)

const component = "openfhir"

var (
	mu            sync.RWMutex
	defaultLogger = New(os.Stderr, LevelInfo)
)

// Default returns the default logger.
func Default() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// New creates a JSON logger writing to output.
func New(output io.Writer, level Level) zerolog.Logger {
	return zerolog.New(output).Level(level).With().Timestamp().Str("component", component).Logger()
}

// NewConsole creates a human readable logger for terminals.
func NewConsole(output io.Writer, level Level) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: output, TimeFormat: time.TimeOnly}
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(name string) Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		return LevelInfo
	}
	return lvl
}

// Package-level convenience functions.

// Debug logs a debug message using the default logger.
func Debug(format string, args ...any) {
	l := Default()
	l.Debug().Msgf(format, args...)
}

// Info logs an info message using the default logger.
func Info(format string, args ...any) {
	l := Default()
	l.Info().Msgf(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...any) {
	l := Default()
	l.Warn().Msgf(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...any) {
	l := Default()
	l.Error().Msgf(format, args...)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = defaultLogger.Level(level)
}

// Disable disables all logging.
func Disable() {
	SetLevel(LevelNone)
}
