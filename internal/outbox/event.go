package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// EventType names the producer event family a row belongs to.
type EventType string

const (
	// EventShipmentCreated is the retryable family swept by the Sweeper.
	EventShipmentCreated EventType = "shipment_created"
	// EventOrderPaid is sent directly by producers and never persisted.
	EventOrderPaid EventType = "order_paid"
)

// Event is one outbox row. It is passed by value; transitions return a new
// value that callers persist explicitly.
type Event struct {
	ID            int64
	EventID       string
	EventType     EventType
	ReferenceID   int64
	TenantID      int64
	PayloadJSON   string
	Status        Status
	Attempts      int
	LastError     *string
	NextAttemptAt *time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DueQuery selects rows eligible for a retry sweep.
type DueQuery struct {
	EventType   EventType
	Now         time.Time
	MaxAttempts int
	Limit       int
}

// Page is a bounded slice of due rows plus the count of every match.
type Page struct {
	Events []Event
	Total  int
}

// Store is the durable outbox table.
type Store interface {
	// Create inserts ev and returns it with ID and Version assigned. It
	// returns ErrDuplicate when a row with the same key exists.
	Create(ctx context.Context, ev Event) (Event, error)
	// Update writes ev by primary key if the stored version still equals
	// ev.Version, and returns ErrStale otherwise.
	Update(ctx context.Context, ev Event) (Event, error)
	// FindByKey returns ErrNotFound when no row matches the dedup key.
	FindByKey(ctx context.Context, eventType EventType, referenceID, tenantID int64) (Event, error)
	// ListDue returns up to q.Limit due rows ordered by ID.
	ListDue(ctx context.Context, q DueQuery) (Page, error)
}

var (
	ErrNotFound  = errors.New("outbox: event not found")
	ErrStale     = errors.New("outbox: event was modified concurrently")
	ErrDuplicate = errors.New("outbox: event already exists")
)

// ValidationError reports a stored payload that could not be decoded.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload_json: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Reason implements the failure classification used for metrics.
func (e *ValidationError) Reason() string { return "validation" }

// failureReason maps a delivery error to a metrics label. Errors from the API
// client expose their own classification.
func failureReason(err error) string {
	var r interface{ Reason() string }
	if errors.As(err, &r) {
		return r.Reason()
	}
	return "other"
}
