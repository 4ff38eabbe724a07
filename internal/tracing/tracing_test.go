package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return exporter
}

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{"empty uses default", "", "tempo:4318"},
		{"http prefix", "http://otel-collector:4318", "otel-collector:4318"},
		{"https prefix and slash", "https://collector.example.com:4318/", "collector.example.com:4318"},
		{"bare host", "localhost:4318", "localhost:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := endpointHost(tt.endpoint); got != tt.want {
				t.Errorf("endpointHost(%q) = %q, want %q", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		got := sampler(tt.ratio).Description()
		if len(got) < len(tt.want) || got[:len(tt.want)] != tt.want {
			t.Errorf("sampler(%v).Description() = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestStartSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "outbox.sweep",
		attribute.Int("limit", 50),
		attribute.String("event_type", "shipment_created"),
	)
	AddSpanEvent(ctx, "row.sent", attribute.Int64("outbox_id", 1))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "outbox.sweep" {
		t.Errorf("span name = %q, want %q", s.Name, "outbox.sweep")
	}
	if len(s.Attributes) != 2 {
		t.Errorf("span attributes = %d, want 2", len(s.Attributes))
	}
	if len(s.Events) != 1 || s.Events[0].Name != "row.sent" {
		t.Errorf("span events = %+v, want one row.sent event", s.Events)
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "webhook.send")
	SetSpanError(ctx, nil)
	SetSpanError(ctx, errors.New("http 500"))
	span.End()

	s := exporter.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error", s.Status.Code)
	}
	if s.Status.Description != "http 500" {
		t.Errorf("status description = %q, want %q", s.Status.Description, "http 500")
	}
}

func TestGetTraceID(t *testing.T) {
	setupTestTracer(t)

	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID() without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	if got := GetTraceID(ctx); len(got) != 32 {
		t.Errorf("GetTraceID() length = %d, want 32", len(got))
	}
}

func TestMessageHeadersRoundTrip(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "ingest.publish")
	defer span.End()
	want := GetTraceID(ctx)

	headers := MessageHeaders(ctx)
	if _, ok := headers["traceparent"]; !ok {
		t.Fatalf("MessageHeaders() = %v, want traceparent", headers)
	}

	restored := FromMessageHeaders(context.Background(), headers)
	child, childSpan := StartSpan(restored, "worker.handle")
	defer childSpan.End()

	if got := GetTraceID(child); got != want {
		t.Errorf("trace id after round trip = %q, want %q", got, want)
	}
}

func TestFromMessageHeadersEmpty(t *testing.T) {
	ctx := context.Background()
	if got := FromMessageHeaders(ctx, nil); got != ctx {
		t.Error("FromMessageHeaders(nil) returned a different context")
	}
}

func TestHTTPPropagation(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "client")
	defer span.End()

	h := http.Header{}
	InjectHTTP(ctx, h)
	if h.Get("Traceparent") == "" {
		t.Fatal("InjectHTTP() did not set traceparent")
	}

	server, serverSpan := StartSpan(FromHTTP(context.Background(), h), "server")
	defer serverSpan.End()
	if GetTraceID(server) != GetTraceID(ctx) {
		t.Error("FromHTTP() did not restore the trace id")
	}
}

func TestTracerNameConstant(t *testing.T) {
	if TracerName != "github.com/austindbirch/tml_hook" {
		t.Errorf("TracerName = %q", TracerName)
	}
}
