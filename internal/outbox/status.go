package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/austindbirch/tml_hook/internal/metrics"
)

// DeadLetterSink is notified once when a row reaches Policy.MaxAttempts.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, ev Event) error
}

// StatusManager applies delivery outcomes to rows and persists them.
type StatusManager struct {
	store  Store
	policy Policy
	opts   options
}

func NewStatusManager(store Store, policy Policy, opts ...Option) *StatusManager {
	return &StatusManager{
		store:  store,
		policy: policy.withDefaults(),
		opts:   buildOptions(opts),
	}
}

// Policy returns a copy of the retry policy in use.
func (m *StatusManager) Policy() Policy {
	p := m.policy
	p.Backoff = append([]time.Duration(nil), m.policy.Backoff...)
	return p
}

// MarkSent persists ev as delivered.
func (m *StatusManager) MarkSent(ctx context.Context, ev Event) (Event, error) {
	return m.store.Update(ctx, sent(ev))
}

// MarkFailed records one more failed attempt with msg and schedules the next
// one from the backoff table.
func (m *StatusManager) MarkFailed(ctx context.Context, ev Event, msg string) (Event, error) {
	next := failed(ev, msg, m.opts.now(), m.policy)
	saved, err := m.store.Update(ctx, next)
	if err != nil {
		return Event{}, err
	}

	if m.policy.Exhausted(saved.Attempts) && !m.policy.Exhausted(ev.Attempts) {
		m.deadLetter(ctx, saved)
	}
	return saved, nil
}

// Settle persists the outcome of one send. A nil sendErr marks the row sent;
// if that write fails for any reason other than ErrStale the row is marked
// failed instead so it is retried. ErrStale is returned wrapped and leaves the
// row as another writer left it.
func (m *StatusManager) Settle(ctx context.Context, ev Event, sendErr error) (Event, error) {
	if sendErr == nil {
		saved, err := m.MarkSent(ctx, ev)
		if err == nil {
			return saved, nil
		}
		if errors.Is(err, ErrStale) {
			return ev, fmt.Errorf("mark sent: %w", err)
		}
		m.opts.logger.WithContext(ctx).WithOutbox(ev.ID).WithEvent(ev.EventID).WithError(err).
			Error("persisting sent status failed; row will be retried")
		sendErr = fmt.Errorf("mark sent: %w", err)
	}

	metrics.RecordFailure(failureReason(sendErr))
	saved, err := m.MarkFailed(ctx, ev, sendErr.Error())
	if err != nil {
		if errors.Is(err, ErrStale) {
			return ev, fmt.Errorf("mark failed: %w", err)
		}
		return Event{}, err
	}
	return saved, nil
}

func (m *StatusManager) deadLetter(ctx context.Context, ev Event) {
	metrics.RecordDeadLetter(string(ev.EventType))
	entry := m.opts.logger.WithContext(ctx).WithOutbox(ev.ID).WithEvent(ev.EventID).WithTenant(ev.TenantID).
		WithField("attempts", ev.Attempts)
	entry.Warn("outbox row reached max attempts")

	if m.opts.sink == nil {
		return
	}
	if err := m.opts.sink.DeadLetter(ctx, ev); err != nil {
		entry.WithError(err).Error("dead letter publish failed")
	}
}
