package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmlhook_outbox_enqueued_total",
			Help: "Outbox rows created or refreshed, by event type and action.",
		},
		[]string{"event_type", "action"}, // created, refreshed, refreshed_sent
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmlhook_webhook_deliveries_total",
			Help: "Webhook delivery attempts by event type and outcome.",
		},
		[]string{"event_type", "outcome"}, // sent, failed
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tmlhook_webhook_delivery_seconds",
			Help:    "Latency of webhook POSTs to the TML API.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"event_type"},
	)

	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmlhook_outbox_failures_total",
			Help: "Failed delivery attempts by reason.",
		},
		[]string{"reason"}, // http_5xx, http_4xx, http_429, timeout, network, config, validation, other
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmlhook_outbox_dead_letters_total",
			Help: "Rows that reached the attempt ceiling.",
		},
		[]string{"event_type"},
	)

	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmlhook_outbox_sweeps_total",
			Help: "Retry sweep runs by result.",
		},
		[]string{"result"}, // ok, error, skipped
	)

	SweepCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tmlhook_outbox_sweep_candidates",
			Help: "Due rows seen by the most recent sweep.",
		},
	)

	RateQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmlhook_rate_quotes_total",
			Help: "Carrier rate lookups by outcome.",
		},
		[]string{"outcome"}, // ok, empty, error
	)

	EventsBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tmlhook_events_backlog",
			Help: "Depth of the producer events channel in nsqd.",
		},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EnqueuedTotal,
		DeliveriesTotal,
		DeliveryLatency,
		FailuresTotal,
		DeadLettersTotal,
		SweepsTotal,
		SweepCandidates,
		RateQuotesTotal,
		EventsBacklog,
	)
}

func RecordEnqueue(eventType, action string) {
	EnqueuedTotal.WithLabelValues(eventType, action).Inc()
}

// RecordDelivery counts one POST and observes its latency.
func RecordDelivery(eventType, outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(eventType, outcome).Inc()
	DeliveryLatency.WithLabelValues(eventType).Observe(latency.Seconds())
}

func RecordFailure(reason string) {
	FailuresTotal.WithLabelValues(reason).Inc()
}

func RecordDeadLetter(eventType string) {
	DeadLettersTotal.WithLabelValues(eventType).Inc()
}

func RecordSweep(result string, candidates int) {
	SweepsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		SweepCandidates.Set(float64(candidates))
	}
}

func RecordRateQuote(outcome string) {
	RateQuotesTotal.WithLabelValues(outcome).Inc()
}

func UpdateEventsBacklog(depth float64) {
	EventsBacklog.Set(depth)
}
