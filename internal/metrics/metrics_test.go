package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	RecordEnqueue("shipment_created", "created")
	RecordDelivery("shipment_created", "sent", 120*time.Millisecond)
	RecordFailure("http_5xx")
	RecordDeadLetter("shipment_created")
	RecordSweep("ok", 3)
	RecordRateQuote("ok")
	UpdateEventsBacklog(4)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	got := make(map[string]bool)
	for _, mf := range families {
		got[mf.GetName()] = true
	}

	for _, name := range []string{
		"tmlhook_outbox_enqueued_total",
		"tmlhook_webhook_deliveries_total",
		"tmlhook_webhook_delivery_seconds",
		"tmlhook_outbox_failures_total",
		"tmlhook_outbox_dead_letters_total",
		"tmlhook_outbox_sweeps_total",
		"tmlhook_outbox_sweep_candidates",
		"tmlhook_rate_quotes_total",
		"tmlhook_events_backlog",
	} {
		if !got[name] {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	DeliveriesTotal.Reset()
	DeliveryLatency.Reset()

	tests := []struct {
		name      string
		eventType string
		outcome   string
		calls     int
	}{
		{"sent shipment", "shipment_created", "sent", 3},
		{"failed shipment", "shipment_created", "failed", 2},
		{"sent paid", "order_paid", "sent", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordDelivery(tt.eventType, tt.outcome, 50*time.Millisecond)
			}
			got := testutil.ToFloat64(DeliveriesTotal.WithLabelValues(tt.eventType, tt.outcome))
			if got != float64(tt.calls) {
				t.Errorf("DeliveriesTotal(%s,%s) = %v, want %d", tt.eventType, tt.outcome, got, tt.calls)
			}
		})
	}

	if n := testutil.CollectAndCount(DeliveryLatency); n != 2 {
		t.Errorf("DeliveryLatency series = %d, want 2", n)
	}
}

func TestRecordFailure(t *testing.T) {
	FailuresTotal.Reset()

	RecordFailure("timeout")
	RecordFailure("timeout")
	RecordFailure("validation")

	if got := testutil.ToFloat64(FailuresTotal.WithLabelValues("timeout")); got != 2 {
		t.Errorf("FailuresTotal(timeout) = %v, want 2", got)
	}
	if got := testutil.ToFloat64(FailuresTotal.WithLabelValues("validation")); got != 1 {
		t.Errorf("FailuresTotal(validation) = %v, want 1", got)
	}
}

func TestRecordSweep(t *testing.T) {
	SweepsTotal.Reset()
	SweepCandidates.Set(0)

	RecordSweep("ok", 7)
	RecordSweep("error", 99)
	RecordSweep("skipped", 0)

	if got := testutil.ToFloat64(SweepCandidates); got != 7 {
		t.Errorf("SweepCandidates = %v, want 7", got)
	}
	for _, result := range []string{"ok", "error", "skipped"} {
		if got := testutil.ToFloat64(SweepsTotal.WithLabelValues(result)); got != 1 {
			t.Errorf("SweepsTotal(%s) = %v, want 1", result, got)
		}
	}
}

func TestRecordDeadLetterAndQuotes(t *testing.T) {
	DeadLettersTotal.Reset()
	RateQuotesTotal.Reset()

	RecordDeadLetter("shipment_created")
	RecordRateQuote("empty")
	RecordRateQuote("empty")

	if got := testutil.ToFloat64(DeadLettersTotal.WithLabelValues("shipment_created")); got != 1 {
		t.Errorf("DeadLettersTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RateQuotesTotal.WithLabelValues("empty")); got != 2 {
		t.Errorf("RateQuotesTotal(empty) = %v, want 2", got)
	}
}

func TestUpdateEventsBacklog(t *testing.T) {
	UpdateEventsBacklog(12)
	if got := testutil.ToFloat64(EventsBacklog); got != 12 {
		t.Errorf("EventsBacklog = %v, want 12", got)
	}
}
