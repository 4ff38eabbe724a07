package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/store/storetest"
)

type flakySender struct {
	fail  map[string]bool
	calls int
}

func (f *flakySender) Send(_ context.Context, _ any, eventID string, _ int64, _ string) error {
	f.calls++
	if f.fail[eventID] {
		return errors.New("unexpected status 500: oops")
	}
	return nil
}

// TestOutboxFlow drives the enqueue, publish and sweep cycle against a real
// SQLite file.
func TestOutboxFlow(t *testing.T) {
	ctx := context.Background()
	store := NewOutboxStore(testDB(t))

	now := storetest.T0
	clock := func() time.Time { return now }
	policy := outbox.Policy{Backoff: []time.Duration{time.Minute, 5 * time.Minute}, MaxAttempts: 3}
	status := outbox.NewStatusManager(store, policy, outbox.WithClock(clock))
	sender := &flakySender{fail: map[string]bool{"shipment:2": true}}
	pub := outbox.NewPublisher(store, sender, status, outbox.WithClock(clock))
	sweeper := outbox.NewSweeper(store, sender, status, outbox.WithClock(clock))

	ok, err := pub.Publish(ctx, outbox.EventShipmentCreated, 1, 1, "shipment:1", map[string]any{"orderId": "1"})
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusSent, ok.Status)

	bad, err := pub.Publish(ctx, outbox.EventShipmentCreated, 2, 1, "shipment:2", map[string]any{"orderId": "2"})
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusFailed, bad.Status)
	assert.Equal(t, 1, bad.Attempts)

	// Not due yet.
	report, err := sweeper.RunSweep(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)

	now = now.Add(time.Minute)
	report, err = sweeper.RunSweep(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.SampleFailures, 1)
	assert.Equal(t, 1, report.SampleFailures[0].AttemptsBefore)

	row, err := store.FindByKey(ctx, outbox.EventShipmentCreated, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, row.Attempts)
	require.NotNil(t, row.NextAttemptAt)
	assert.True(t, row.NextAttemptAt.Equal(now.Add(5*time.Minute)))

	sender.fail = nil
	now = now.Add(5 * time.Minute)
	report, err = sweeper.RunSweep(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	row, err = store.FindByKey(ctx, outbox.EventShipmentCreated, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusSent, row.Status)
	assert.Nil(t, row.LastError)
	assert.Nil(t, row.NextAttemptAt)

	// Re-enqueueing a sent row keeps it sent and does not resend.
	calls := sender.calls
	again, err := pub.Publish(ctx, outbox.EventShipmentCreated, 2, 1, "shipment:2", map[string]any{"orderId": "2", "v": 2})
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusSent, again.Status)
	assert.Equal(t, calls, sender.calls)
}
