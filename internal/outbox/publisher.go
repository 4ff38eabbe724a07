package outbox

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/tml_hook/internal/tmlapi"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

// Publisher is the producer entry point: record the event, then make the
// first delivery attempt right away.
type Publisher struct {
	enqueuer *Enqueuer
	sender   Sender
	status   *StatusManager
	opts     options
}

func NewPublisher(store Store, sender Sender, status *StatusManager, opts ...Option) *Publisher {
	return &Publisher{
		enqueuer: NewEnqueuer(store, opts...),
		sender:   sender,
		status:   status,
		opts:     buildOptions(opts),
	}
}

// Publish enqueues payload and sends it unless the row was already sent.
// Delivery failures are recorded on the returned row, not returned; errors
// come only from encoding the payload or from the store.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, referenceID, tenantID int64, eventID string, payload any) (Event, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.publish",
		attribute.String("event_type", string(eventType)),
		attribute.String("event_id", eventID),
		attribute.Int64("tenant_id", tenantID),
	)
	defer span.End()

	body, err := tmlapi.Marshal(payload)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Event{}, &ValidationError{Err: err}
	}

	ev, err := p.enqueuer.GetOrCreate(ctx, eventType, referenceID, tenantID, eventID, string(body))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Event{}, err
	}

	log := p.opts.logger.WithContext(ctx).WithOutbox(ev.ID).WithEvent(ev.EventID).WithTenant(tenantID)
	if ev.Status == StatusSent {
		log.Debug("outbox row already sent; payload refreshed")
		return ev, nil
	}

	sendErr := p.sender.Send(ctx, payload, ev.EventID, tenantID, string(eventType))
	saved, err := p.status.Settle(ctx, ev, sendErr)
	if errors.Is(err, ErrStale) {
		log.WithError(err).Warn("outbox row changed during publish")
		return ev, nil
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Event{}, err
	}

	if saved.Status != StatusSent {
		log.WithField("attempts", saved.Attempts).WithError(sendErr).Warn("webhook send failed; scheduled for retry")
	}
	span.SetAttributes(attribute.String("outbox.status", string(saved.Status)))
	return saved, nil
}
