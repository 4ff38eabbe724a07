package logging

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(service string) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewWithZap(service, zap.New(core)), logs
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
	}{
		{"service name", "tmlhook-worker"},
		{"empty service name", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.serviceName)
			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if logger.service != tt.serviceName {
				t.Errorf("New() service = %q, want %q", logger.service, tt.serviceName)
			}
			if logger.Zap() == nil {
				t.Error("New() zap logger is nil")
			}
		})
	}
}

func TestLogger_ServiceField(t *testing.T) {
	logger, logs := newObserved("tmlhook-ingest")
	logger.Plain().Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["service"]; got != "tmlhook-ingest" {
		t.Errorf("service = %v, want %q", got, "tmlhook-ingest")
	}
}

func TestLogger_WithContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	tests := []struct {
		name     string
		hasTrace bool
	}{
		{"with trace context", true},
		{"without trace context", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newObserved("svc")
			ctx := context.Background()
			var wantTrace string
			if tt.hasTrace {
				c, s := tp.Tracer("test").Start(ctx, "op")
				defer s.End()
				ctx = c
				wantTrace = s.SpanContext().TraceID().String()
			}

			logger.WithContext(ctx).Info("traced")

			fields := logs.All()[0].ContextMap()
			got, ok := fields["trace_id"]
			if tt.hasTrace {
				if !ok || got != wantTrace {
					t.Errorf("trace_id = %v, want %q", got, wantTrace)
				}
			} else if ok {
				t.Errorf("trace_id = %v, want absent", got)
			}
		})
	}
}

func TestLogEntry_FluentMethods(t *testing.T) {
	logger, logs := newObserved("svc")

	logger.Plain().
		WithTenant(7).
		WithEvent("shipment:123").
		WithOutbox(42).
		WithField("attempt", 3).
		WithFields(map[string]any{"status": 500}).
		WithError(errors.New("boom")).
		Warn("delivery failed")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", e.Level)
	}
	if e.Message != "delivery failed" {
		t.Errorf("message = %q, want %q", e.Message, "delivery failed")
	}

	fields := e.ContextMap()
	tests := []struct {
		key  string
		want any
	}{
		{"tenant_id", int64(7)},
		{"event_id", "shipment:123"},
		{"outbox_id", int64(42)},
		{"attempt", int64(3)},
		{"status", int64(500)},
		{"error", "boom"},
	}
	for _, tt := range tests {
		if got := fields[tt.key]; got != tt.want {
			t.Errorf("field %s = %v (%T), want %v (%T)", tt.key, got, got, tt.want, tt.want)
		}
	}
}

func TestLogEntry_WithNilError(t *testing.T) {
	logger, logs := newObserved("svc")
	logger.Plain().WithError(nil).Info("ok")

	if _, ok := logs.All()[0].ContextMap()["error"]; ok {
		t.Error("WithError(nil) added an error field")
	}
}

func TestLogEntry_Levels(t *testing.T) {
	logger, logs := newObserved("svc")

	logger.Plain().Debug("d")
	logger.Plain().Debugf("d%d", 1)
	logger.Plain().Info("i")
	logger.Plain().Infof("i%d", 1)
	logger.Plain().Warn("w")
	logger.Plain().Warnf("w%d", 1)
	logger.Plain().Error("e")
	logger.Plain().Errorf("e%d", 1)

	want := []struct {
		level zapcore.Level
		msg   string
	}{
		{zapcore.DebugLevel, "d"},
		{zapcore.DebugLevel, "d1"},
		{zapcore.InfoLevel, "i"},
		{zapcore.InfoLevel, "i1"},
		{zapcore.WarnLevel, "w"},
		{zapcore.WarnLevel, "w1"},
		{zapcore.ErrorLevel, "e"},
		{zapcore.ErrorLevel, "e1"},
	}

	entries := logs.All()
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Level != w.level || entries[i].Message != w.msg {
			t.Errorf("entry %d = (%v, %q), want (%v, %q)", i, entries[i].Level, entries[i].Message, w.level, w.msg)
		}
	}
}

func TestGlobalFunctions(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	logger, logs := newObserved("global")
	SetDefault(logger)

	Plain().Info("plain")
	WithFields(map[string]any{"k": "v"}).Info("fields")
	WithContext(context.Background()).Info("ctx")

	if got := logs.Len(); got != 3 {
		t.Errorf("global functions logged %d entries, want 3", got)
	}

	SetDefault(nil)
	if Default() != logger {
		t.Error("SetDefault(nil) replaced the default logger")
	}
}
