// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// Every component of the consensus and promotion pipeline receives a Logger scoped to its
// module ("consensus", "promotion", "datastore", ...). Runs attach their run id through
// WithTraceID so that all lines of one batch can be correlated.
//
// # Quick Start
//
//	cfg := &logger.LoggingConfig{
//	    DefaultLevel: "info",
//	    Timezone:     "UTC",
//	    Console: &logger.ConsoleOutput{
//	        Enabled: true,
//	        Level:   "info",
//	    },
//	}
//
//	central, err := logger.NewCentralLogger(cfg)
//	if err != nil {
//	    return err
//	}
//	defer central.Close()
//
//	log := central.Module("consensus")
//	log.Info("run completed",
//	    logger.Int("users", 120),
//	    logger.Float64("min_weight", 0.41))
//
// # Testing
//
// Use a buffer or discard logger in tests:
//
//	buf := &bytes.Buffer{}
//	testLogger := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)
//
//	silent := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
//
// # Configuration
//
//	logging:
//	  default_level: "info"
//	  timezone: "UTC"
//	  console:
//	    enabled: true
//	    level: "info"
//	  file_output:
//	    enabled: true
//	    path: "logs/countertop.log"
//	    level: "debug"
//	  module_levels:
//	    datastore: "warn"
//	  modules:
//	    promotion:
//	      enabled: true
//	      file_path: "logs/promotion.log"
//	      level: "debug"
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured log field.
// Keys are interned using unique.Make() so repeated keys share one allocation.
type Field struct {
	Key   string
	Value any
}

// internKey returns an interned version of the key string.
func internKey(key string) string {
	return unique.Make(key).Value()
}

// Pre-interned common keys
var (
	errorKey   = internKey("error")
	moduleKey  = internKey("module")
	traceIDKey = internKey("trace_id")
)

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	// Leveled logging methods
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Context-aware logging
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	// Log with explicit level
	Log(level LogLevel, msg string, fields ...Field)

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field for structured logging.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field for structured logging.
//
// Example:
//
//	log.Info("batch ingested",
//	    logger.Int("rows", len(batch)),
//	    logger.Int("new_users", created))
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field, used for classification, subject and user ids.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a 64-bit float field for structured logging.
// Values are rounded to three decimals in the output.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field for structured logging.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field for structured logging.
//
// The field key is always "error". If err is nil, the value will be nil.
//
// Example:
//
//	if err := store.ClearAndRewrite(ctx, rows); err != nil {
//	    log.Error("failed to persist users",
//	        logger.Error(err),
//	        logger.Int("rows", len(rows)))
//	    return err
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field for structured logging.
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Time creates a time field for structured logging.
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with any value for structured logging.
// Prefer the type-specific constructors for simple values.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
