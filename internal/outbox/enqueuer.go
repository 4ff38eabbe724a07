package outbox

import (
	"context"
	"errors"

	"github.com/austindbirch/tml_hook/internal/metrics"
)

// Enqueuer records producer events in the outbox.
type Enqueuer struct {
	store Store
	opts  options
}

func NewEnqueuer(store Store, opts ...Option) *Enqueuer {
	return &Enqueuer{store: store, opts: buildOptions(opts)}
}

// GetOrCreate upserts the row for (eventType, referenceID, tenantID) with a
// single write. An unsent row gets the new payload and goes back to pending
// but keeps its attempts and next_attempt_at; a sent row only gets the new
// payload. A producer that loses the insert race to another one refreshes
// the winner's row instead. Other store errors are returned as is.
func (e *Enqueuer) GetOrCreate(ctx context.Context, eventType EventType, referenceID, tenantID int64, eventID, payloadJSON string) (Event, error) {
	ev, err := e.store.FindByKey(ctx, eventType, referenceID, tenantID)
	if errors.Is(err, ErrNotFound) {
		created, cerr := e.store.Create(ctx, Event{
			EventID:     eventID,
			EventType:   eventType,
			ReferenceID: referenceID,
			TenantID:    tenantID,
			PayloadJSON: payloadJSON,
			Status:      StatusPending,
		})
		if cerr == nil {
			metrics.RecordEnqueue(string(eventType), "created")
			return created, nil
		}
		if !errors.Is(cerr, ErrDuplicate) {
			return Event{}, cerr
		}
		e.opts.logger.WithContext(ctx).WithEvent(eventID).WithTenant(tenantID).
			Debug("outbox insert lost race; refreshing existing row")
		ev, err = e.store.FindByKey(ctx, eventType, referenceID, tenantID)
	}
	if err != nil {
		return Event{}, err
	}

	ev.PayloadJSON = payloadJSON
	action := "refreshed_sent"
	if ev.Status != StatusSent {
		ev.Status = StatusPending
		action = "refreshed"
	}

	updated, err := e.store.Update(ctx, ev)
	if err != nil {
		return Event{}, err
	}
	metrics.RecordEnqueue(string(eventType), action)
	return updated, nil
}
