package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

const (
	DLQType    = "delivery.dlq"
	DLQVersion = "v1"
)

// DeadLetterEvent is the snapshot of the exhausted outbox row.
type DeadLetterEvent struct {
	OutboxID    int64           `json:"outbox_id"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	ReferenceID int64           `json:"reference_id"`
	TenantID    int64           `json:"tenant_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

type DeadLetter struct {
	Type         string            `json:"type"`    // "delivery.dlq"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason       string            `json:"reason"`
	Attempts     int               `json:"attempts"`
	LastError    string            `json:"last_error,omitempty"`
	Event        DeadLetterEvent   `json:"event"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func NewDeadLetter(ev outbox.Event, reason string, at time.Time) DeadLetter {
	dl := DeadLetter{
		Type:     DLQType,
		Version:  DLQVersion,
		At:       at.UTC().Format(time.RFC3339Nano),
		Reason:   reason,
		Attempts: ev.Attempts,
		Event: DeadLetterEvent{
			OutboxID:    ev.ID,
			EventID:     ev.EventID,
			EventType:   string(ev.EventType),
			ReferenceID: ev.ReferenceID,
			TenantID:    ev.TenantID,
		},
	}
	if ev.LastError != nil {
		dl.LastError = *ev.LastError
	}
	if json.Valid([]byte(ev.PayloadJSON)) {
		dl.Event.Payload = json.RawMessage(ev.PayloadJSON)
	}
	if !ev.CreatedAt.IsZero() {
		dl.Event.CreatedAt = ev.CreatedAt.UTC().Format(time.RFC3339)
	}
	return dl
}

// Producer is satisfied by *nsq.Producer.
type Producer interface {
	Publish(topic string, body []byte) error
}

// DLQSink publishes exhausted outbox rows to the dead letter topic.
type DLQSink struct {
	producer Producer
	topic    string
	now      func() time.Time
	logger   *logging.Logger
}

func NewDLQSink(producer Producer, topic string, logger *logging.Logger) *DLQSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &DLQSink{producer: producer, topic: topic, now: time.Now, logger: logger}
}

func (s *DLQSink) DeadLetter(ctx context.Context, ev outbox.Event) error {
	dl := NewDeadLetter(ev, "max attempts reached", s.now())
	dl.TraceHeaders = tracing.MessageHeaders(ctx)

	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := s.producer.Publish(s.topic, body); err != nil {
		return fmt.Errorf("publish dead letter to %s: %w", s.topic, err)
	}

	s.logger.WithContext(ctx).WithOutbox(ev.ID).WithEvent(ev.EventID).WithTenant(ev.TenantID).
		WithField("topic", s.topic).WithField("attempts", ev.Attempts).Warn("outbox row dead lettered")
	return nil
}
