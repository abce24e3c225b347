package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "time/tzdata" // IANA zones for LoadLocation on hosts without a zoneinfo database
)

const (
	// traceLevelValue is slog.Level for TRACE level (below Debug which is -4)
	traceLevelValue = slog.Level(-8)

	// floatPrecisionRatio rounds floats to 3 decimal places in log output
	floatPrecisionRatio = 1000.0

	// LogFilePermissions is the mode used for newly created log files
	LogFilePermissions = 0o600
)

// loggerContextKey is a typed key for context values to avoid string collisions.
type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID() to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context with the trace ID set
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// CentralLogger manages module-aware logging with flexible routing
type CentralLogger struct {
	config        *LoggingConfig
	timezone      *time.Location
	baseHandler   slog.Handler                   // default handler for modules without specific config
	mainWriter    *BufferedFileWriter            // main log file writer (if file output enabled)
	moduleWriters map[string]*BufferedFileWriter // per-module buffered writers
	moduleLevels  map[string]slog.Level
	mu            sync.RWMutex
}

// NewCentralLogger creates a centralized logger with module routing
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}

	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:        cfg,
		timezone:      tz,
		moduleWriters: make(map[string]*BufferedFileWriter),
		moduleLevels:  make(map[string]slog.Level),
	}

	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	if err := cl.createBaseHandler(); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}

	for module, moduleConfig := range cfg.ModuleOutputs {
		if !moduleConfig.Enabled {
			continue
		}

		if err := ensureFileDirectory(moduleConfig.FilePath); err != nil {
			cl.closeAllWriters()
			return nil, fmt.Errorf("failed to create directory for module %s: %w", module, err)
		}

		writer, err := NewBufferedFileWriter(moduleConfig.FilePath)
		if err != nil {
			cl.closeAllWriters()
			return nil, fmt.Errorf("failed to create log writer for module %s: %w", module, err)
		}
		cl.moduleWriters[module] = writer
	}

	return cl, nil
}

// loadTimezone resolves "Local", "" or an IANA name
func loadTimezone(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	default:
		tz, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
		}
		return tz, nil
	}
}

// createBaseHandler creates the default handler for console and/or main file output
func (cl *CentralLogger) createBaseHandler() error {
	var handlers []slog.Handler

	// Console is human-readable text, the main file is JSON for machine parsing
	if cl.config.Console != nil && cl.config.Console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cl.config.Console.Level), cl.timezone))
	}

	if cl.config.FileOutput != nil && cl.config.FileOutput.Enabled {
		if err := ensureFileDirectory(cl.config.FileOutput.Path); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		writer, err := NewBufferedFileWriter(cl.config.FileOutput.Path)
		if err != nil {
			return fmt.Errorf("failed to create log writer: %w", err)
		}
		cl.mainWriter = writer

		handlers = append(handlers, slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: parseLogLevel(cl.config.FileOutput.Level),
		}))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cl.config.DefaultLevel), cl.timezone))
	}

	cl.baseHandler = combineHandlers(handlers)
	return nil
}

// Module returns a logger scoped to a specific module
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	moduleConfig, hasModuleConfig := cl.config.ModuleOutputs[name]
	moduleLevel := cl.getModuleLevelLocked(name)
	if hasModuleConfig && moduleConfig.Level != "" {
		moduleLevel = parseLogLevel(moduleConfig.Level)
	}

	var handlers []slog.Handler
	if hasModuleConfig && moduleConfig.Enabled {
		if moduleWriter, ok := cl.moduleWriters[name]; ok {
			handlers = append(handlers, slog.NewJSONHandler(moduleWriter, &slog.HandlerOptions{Level: moduleLevel}))
		}
		if moduleConfig.ConsoleAlso && cl.config.Console != nil && cl.config.Console.Enabled {
			handlers = append(handlers, newTextHandler(os.Stdout, moduleLevel, cl.timezone))
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, cl.baseHandler)
	}

	return &moduleLogger{
		module:   name,
		logger:   slog.New(combineHandlers(handlers)),
		level:    moduleLevel,
		timezone: cl.timezone,
	}
}

// getModuleLevelLocked returns the log level for a module (must hold read lock)
func (cl *CentralLogger) getModuleLevelLocked(module string) slog.Level {
	if level, ok := cl.moduleLevels[module]; ok {
		return level
	}
	return parseLogLevel(cl.config.DefaultLevel)
}

// Close flushes and closes all buffered writers
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.closeAllWritersLocked()
}

func (cl *CentralLogger) closeAllWriters() {
	_ = cl.closeAllWritersLocked()
}

// closeAllWritersLocked closes all writers (caller must hold lock or be in init)
func (cl *CentralLogger) closeAllWritersLocked() error {
	var errs []error

	if cl.mainWriter != nil {
		if err := cl.mainWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close main log writer: %w", err))
		}
		cl.mainWriter = nil
	}

	for module, writer := range cl.moduleWriters {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log writer for module %s: %w", module, err))
		}
	}
	cl.moduleWriters = nil

	return errors.Join(errs...)
}

// Flush writes buffered log lines to the OS. Close also syncs to disk.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	if cl.mainWriter != nil {
		if err := cl.mainWriter.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush main log writer: %w", err))
		}
	}
	for module, writer := range cl.moduleWriters {
		if err := writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush log writer for module %s: %w", module, err))
		}
	}

	return errors.Join(errs...)
}

// ensureFileDirectory creates the directory for a file path if it doesn't exist
func ensureFileDirectory(filePath string) error {
	if filePath == "" {
		return nil
	}

	dir := filepath.Dir(filePath)
	if dir == "." || dir == filePath {
		return nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

// parseLogLevel converts string level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return traceLevelValue
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

// parseSlogLevel converts a LogLevel to slog.Level
func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}

// moduleLogger implements Logger interface for a specific module
type moduleLogger struct {
	module   string
	logger   *slog.Logger
	level    slog.Level
	timezone *time.Location
	fields   []Field
}

// Module creates a sub-module logger named "<parent>.<name>"
func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}

	module := name
	if m.module != "" {
		module = m.module + "." + name
	}

	return &moduleLogger{
		module:   module,
		logger:   m.logger,
		level:    m.level,
		timezone: m.timezone,
		fields:   slices.Clone(m.fields),
	}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) {
	if m == nil || m.level > traceLevelValue {
		return
	}
	m.log(traceLevelValue, msg, fields...)
}

func (m *moduleLogger) Debug(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelDebug {
		return
	}
	m.log(slog.LevelDebug, msg, fields...)
}

func (m *moduleLogger) Info(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelInfo {
		return
	}
	m.log(slog.LevelInfo, msg, fields...)
}

func (m *moduleLogger) Warn(msg string, fields ...Field) {
	if m == nil || m.level > slog.LevelWarn {
		return
	}
	m.log(slog.LevelWarn, msg, fields...)
}

func (m *moduleLogger) Error(msg string, fields ...Field) {
	if m == nil {
		return
	}
	m.log(slog.LevelError, msg, fields...)
}

// Log logs a message with explicit level
func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	if m == nil {
		return
	}
	slogLevel := parseSlogLevel(level)
	if m.level > slogLevel {
		return
	}
	m.log(slogLevel, msg, fields...)
}

// With returns a new logger with accumulated fields
func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}

	return &moduleLogger{
		module:   m.module,
		logger:   m.logger,
		level:    m.level,
		timezone: m.timezone,
		fields:   slices.Concat(m.fields, fields),
	}
}

// WithContext returns a logger carrying the context's trace id, if any
func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}

	traceID := getTraceIDFromContext(ctx)
	if traceID == "" {
		return m
	}

	return m.With(String(traceIDKey, traceID))
}

// Flush is a no-op; module loggers don't own file handles
func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields ...Field) {
	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))

	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for i := range m.fields {
		attrs = append(attrs, fieldToAttr(m.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}

	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// roundFloat rounds a float64 to 3 decimal places
func roundFloat(val float64) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return val
	}
	return math.Round(val*floatPrecisionRatio) / floatPrecisionRatio
}

// fieldToAttr converts Field to slog.Attr
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, roundFloat(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		// slog.Duration prints nanoseconds in JSON
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

// getTraceIDFromContext extracts trace ID from context
func getTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
