// Package log provides the structured logging interface used across qnglm.
//
// The interface is slog-compatible so applications can plug in their own
// backend; the default backend is zerolog (see NewZerologLogger). Standard
// attribute keys live in attributes.go.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("glm").With(
//	    log.LossKey, "logistic",
//	)
//	logger.Info("fit finished",
//	    log.OperationKey, log.OperationFit,
//	    log.IterationKey, 42,
//	)
package log

import (
	"context"
)

// Logger is a structured logger with key-value fields.
//
// If the first field passed to Error (or Warn) is an error value it is
// recorded under the "error" key; the remaining fields are key-value pairs.
type Logger interface {
	// Debug logs detailed diagnostics such as per-iteration solver progress.
	Debug(msg string, fields ...any)

	// Info logs operational events such as the start and end of a fit.
	Info(msg string, fields ...any)

	// Warn logs conditions the caller may want to act on, e.g. non-convergence.
	Warn(msg string, fields ...any)

	// Error logs failures.
	Error(msg string, fields ...any)

	// With returns a Logger that adds fields to every record.
	With(fields ...any) Logger

	// Enabled reports whether records at level are emitted. Use it to skip
	// computing expensive fields such as gradient norms.
	Enabled(ctx context.Context, level Level) bool
}

// Level is a logging level; values match slog.Level.
type Level int

// Standard logging levels.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates loggers. The package-level GetLogger and
// GetLoggerWithName delegate to the installed provider.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum level for loggers created by this provider.
	SetLevel(level Level)
}
