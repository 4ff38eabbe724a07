package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

// ErrInvalidMessage is wrapped by every Decode and Validate failure.
var ErrInvalidMessage = errors.New("delivery: invalid message")

// Message is the envelope producers put on the events topic. Payload is the
// JSON object that becomes the webhook body.
type Message struct {
	EventType    string            `json:"event_type"`
	ReferenceID  int64             `json:"reference_id"`
	TenantID     int64             `json:"tenant_id"`
	EventID      string            `json:"event_id,omitempty"`
	Payload      json.RawMessage   `json:"payload"`
	PublishedAt  string            `json:"published_at"`            // RFC3339
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// NewMessage encodes payload and stamps the trace context of ctx.
func NewMessage(ctx context.Context, eventType outbox.EventType, referenceID, tenantID int64, eventID string, payload any, now time.Time) (Message, error) {
	body, err := tmlapi.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		EventType:    string(eventType),
		ReferenceID:  referenceID,
		TenantID:     tenantID,
		EventID:      eventID,
		Payload:      json.RawMessage(body),
		PublishedAt:  now.UTC().Format(time.RFC3339),
		TraceHeaders: tracing.MessageHeaders(ctx),
	}
	return m, m.Validate()
}

// Decode parses and validates one broker or HTTP message body.
func Decode(body []byte) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, m.Validate()
}

func (m Message) Validate() error {
	switch outbox.EventType(m.EventType) {
	case outbox.EventShipmentCreated:
		if m.ReferenceID <= 0 {
			return fmt.Errorf("%w: reference_id is required for %s", ErrInvalidMessage, m.EventType)
		}
	case outbox.EventOrderPaid:
	default:
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidMessage, m.EventType)
	}
	if m.TenantID <= 0 {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidMessage)
	}
	trimmed := bytes.TrimSpace(m.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload must be a JSON object", ErrInvalidMessage)
	}
	return nil
}

// ResolvedEventID is the idempotency key sent as X-EventId. Shipments are
// keyed by their id when the producer did not set one.
func (m Message) ResolvedEventID() string {
	if m.EventID != "" {
		return m.EventID
	}
	if outbox.EventType(m.EventType) == outbox.EventShipmentCreated {
		return fmt.Sprintf("shipment:%d", m.ReferenceID)
	}
	return ""
}

// PayloadMap decodes Payload keeping numbers exact.
func (m Message) PayloadMap() (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return out, nil
}

// Context restores the producer's trace context on ctx.
func (m Message) Context(ctx context.Context) context.Context {
	return tracing.FromMessageHeaders(ctx, m.TraceHeaders)
}

func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
