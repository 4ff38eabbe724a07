// Package intake routes producer events to the outbox or straight to the
// webhook, for both the NSQ consumer and the HTTP API.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/tml_hook/internal/delivery"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/tenant"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

const (
	ActionSkipped = "skipped"
	ActionSent    = "sent"
	ActionFailed  = "failed"
)

// Publisher is satisfied by *outbox.Publisher.
type Publisher interface {
	Publish(ctx context.Context, eventType outbox.EventType, referenceID, tenantID int64, eventID string, payload any) (outbox.Event, error)
}

// Result is what happened to one message.
type Result struct {
	Action   string `json:"action"`
	EventID  string `json:"event_id,omitempty"`
	OutboxID int64  `json:"outbox_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Handler struct {
	tenants   tenant.Source
	publisher Publisher
	sender    outbox.Sender
	logger    *logging.Logger
}

func NewHandler(tenants tenant.Source, publisher Publisher, sender outbox.Sender, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{tenants: tenants, publisher: publisher, sender: sender, logger: logger}
}

// Handle delivers one message. Shipments go through the outbox; paid orders
// are sent once with no row behind them. Webhook failures are reported in
// the Result; the error is reserved for tenant lookup and store failures.
func (h *Handler) Handle(ctx context.Context, m delivery.Message) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	ctx, span := tracing.StartSpan(ctx, "intake.handle",
		attribute.String("event_type", m.EventType),
		attribute.Int64("tenant_id", m.TenantID),
		attribute.Int64("reference_id", m.ReferenceID),
	)
	defer span.End()

	eventID := m.ResolvedEventID()
	log := h.logger.WithContext(ctx).WithTenant(m.TenantID).WithEvent(eventID).WithField("event_type", m.EventType)

	enabled, err := tenant.Enabled(ctx, h.tenants, m.TenantID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Result{}, fmt.Errorf("lookup tenant %d: %w", m.TenantID, err)
	}
	if !enabled {
		log.Debug("tenant disabled; event skipped")
		return Result{Action: ActionSkipped, EventID: eventID}, nil
	}

	payload, err := m.PayloadMap()
	if err != nil {
		return Result{}, err
	}

	switch outbox.EventType(m.EventType) {
	case outbox.EventShipmentCreated:
		ev, err := h.publisher.Publish(ctx, outbox.EventShipmentCreated, m.ReferenceID, m.TenantID, eventID, payload)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return Result{}, err
		}
		res := Result{Action: ActionSent, EventID: ev.EventID, OutboxID: ev.ID, Attempts: ev.Attempts}
		if ev.Status != outbox.StatusSent {
			res.Action = ActionFailed
			if ev.LastError != nil {
				res.Error = *ev.LastError
			}
		}
		return res, nil

	default:
		if err := h.sender.Send(ctx, payload, eventID, m.TenantID, m.EventType); err != nil {
			log.WithError(err).Warn("direct webhook send failed")
			return Result{Action: ActionFailed, EventID: eventID, Error: err.Error()}, nil
		}
		return Result{Action: ActionSent, EventID: eventID}, nil
	}
}

// HandleMessage implements nsq.Handler. Undecodable messages are finished
// and dropped; store and tenant lookup failures requeue.
func (h *Handler) HandleMessage(msg *nsq.Message) error {
	m, err := delivery.Decode(msg.Body)
	if err != nil {
		h.logger.Plain().WithError(err).WithField("nsq_attempts", msg.Attempts).Error("dropping invalid events message")
		return nil
	}

	ctx := m.Context(context.Background())
	res, err := h.Handle(ctx, m)
	if err != nil {
		if errors.Is(err, delivery.ErrInvalidMessage) {
			return nil
		}
		var verr *outbox.ValidationError
		if errors.As(err, &verr) {
			h.logger.WithContext(ctx).WithError(err).Error("dropping events message with invalid payload")
			return nil
		}
		h.logger.WithContext(ctx).WithTenant(m.TenantID).WithError(err).Error("events message failed; requeueing")
		return err
	}

	h.logger.WithContext(ctx).WithTenant(m.TenantID).WithEvent(res.EventID).
		WithField("action", res.Action).WithField("outbox_id", res.OutboxID).Info("events message handled")
	return nil
}
