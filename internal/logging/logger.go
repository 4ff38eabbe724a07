package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/austindbirch/tml_hook/internal/tracing"
)

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
	z       *zap.Logger
}

// LogEntry accumulates fields until one of the level methods is called
type LogEntry struct {
	z      *zap.Logger
	fields []zap.Field
}

// New creates a JSON logger for the given service
func New(service string) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return NewWithZap(service, z)
}

// NewWithZap wraps an existing zap logger; tests pass an observer core.
func NewWithZap(service string, z *zap.Logger) *Logger {
	if service != "" {
		z = z.With(zap.String("service", service))
	}
	return &Logger{service: service, z: z}
}

// Zap exposes the underlying logger for libraries that take one directly.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Sync flushes buffered entries
func (l *Logger) Sync() { _ = l.z.Sync() }

// WithContext creates a log entry carrying the trace id from ctx, if any
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.Plain()
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		e.fields = append(e.fields, zap.String("trace_id", traceID))
	}
	return e
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.Plain().WithFields(fields)
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return &LogEntry{z: l.z}
}

// WithTenant sets the tenant id
func (e *LogEntry) WithTenant(tenantID int64) *LogEntry {
	e.fields = append(e.fields, zap.Int64("tenant_id", tenantID))
	return e
}

// WithEvent sets the producer event id
func (e *LogEntry) WithEvent(eventID string) *LogEntry {
	e.fields = append(e.fields, zap.String("event_id", eventID))
	return e
}

// WithOutbox sets the outbox row id
func (e *LogEntry) WithOutbox(rowID int64) *LogEntry {
	e.fields = append(e.fields, zap.Int64("outbox_id", rowID))
	return e
}

func (e *LogEntry) WithField(key string, value any) *LogEntry {
	e.fields = append(e.fields, zap.Any(key, value))
	return e
}

func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.fields = append(e.fields, zap.Any(k, v))
	}
	return e
}

// WithError adds an error field; nil is ignored
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		e.fields = append(e.fields, zap.Error(err))
	}
	return e
}

func (e *LogEntry) Debug(message string) { e.z.Debug(message, e.fields...) }

func (e *LogEntry) Debugf(format string, args ...any) {
	e.z.Debug(fmt.Sprintf(format, args...), e.fields...)
}

func (e *LogEntry) Info(message string) { e.z.Info(message, e.fields...) }

func (e *LogEntry) Infof(format string, args ...any) {
	e.z.Info(fmt.Sprintf(format, args...), e.fields...)
}

func (e *LogEntry) Warn(message string) { e.z.Warn(message, e.fields...) }

func (e *LogEntry) Warnf(format string, args ...any) {
	e.z.Warn(fmt.Sprintf(format, args...), e.fields...)
}

func (e *LogEntry) Error(message string) { e.z.Error(message, e.fields...) }

func (e *LogEntry) Errorf(format string, args ...any) {
	e.z.Error(fmt.Sprintf(format, args...), e.fields...)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) { e.z.Fatal(message, e.fields...) }

// Fatalf logs at fatal level with formatting and exits
func (e *LogEntry) Fatalf(format string, args ...any) {
	e.z.Fatal(fmt.Sprintf(format, args...), e.fields...)
}

// Global convenience functions

var defaultLogger = NewWithZap("tmlhook", zap.NewNop())

// Default returns the package-level logger
func Default() *Logger { return defaultLogger }

// SetDefault replaces the package-level logger; binaries call it once at startup
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// WithContext creates a log entry with trace correlation using the default logger
func WithContext(ctx context.Context) *LogEntry {
	return defaultLogger.WithContext(ctx)
}

// WithFields creates a log entry with fields using the default logger
func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

// Plain creates a basic log entry using the default logger
func Plain() *LogEntry {
	return defaultLogger.Plain()
}
