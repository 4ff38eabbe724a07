// Package storetest holds the behaviour every outbox and tenant store must
// share. Store packages run it from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/tenant"
)

var T0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// OutboxFactory returns an empty store.
type OutboxFactory func(t *testing.T) outbox.Store

func newEvent(ref int64) outbox.Event {
	return outbox.Event{
		EventID:     fmt.Sprintf("shipment:%d", ref),
		EventType:   outbox.EventShipmentCreated,
		ReferenceID: ref,
		TenantID:    1,
		PayloadJSON: `{"orderId":"1000` + fmt.Sprint(ref) + `","city":"Córdoba"}`,
		Status:      outbox.StatusPending,
	}
}

func ptr[T any](v T) *T { return &v }

// RunOutbox exercises a Store implementation.
func RunOutbox(t *testing.T, factory OutboxFactory) {
	t.Run("create and find", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		created, err := s.Create(ctx, newEvent(7))
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, int64(1), created.Version)
		assert.Nil(t, created.LastError)
		assert.Nil(t, created.NextAttemptAt)
		assert.False(t, created.CreatedAt.IsZero())

		found, err := s.FindByKey(ctx, outbox.EventShipmentCreated, 7, 1)
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, created.PayloadJSON, found.PayloadJSON)
		assert.Equal(t, "shipment:7", found.EventID)
		assert.Equal(t, outbox.StatusPending, found.Status)
	})

	t.Run("find missing", func(t *testing.T) {
		s := factory(t)
		_, err := s.FindByKey(context.Background(), outbox.EventShipmentCreated, 404, 1)
		assert.ErrorIs(t, err, outbox.ErrNotFound)
	})

	t.Run("duplicate key", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		_, err := s.Create(ctx, newEvent(7))
		require.NoError(t, err)
		_, err = s.Create(ctx, newEvent(7))
		assert.ErrorIs(t, err, outbox.ErrDuplicate)

		other := newEvent(7)
		other.TenantID = 2
		_, err = s.Create(ctx, other)
		assert.NoError(t, err, "same reference for another tenant is a new row")
	})

	t.Run("update bumps version", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		ev, err := s.Create(ctx, newEvent(7))
		require.NoError(t, err)

		next := T0.Add(5 * time.Minute)
		ev.Status = outbox.StatusFailed
		ev.Attempts = 2
		ev.LastError = ptr("unexpected status 500: oops")
		ev.NextAttemptAt = &next

		saved, err := s.Update(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		got, err := s.FindByKey(ctx, outbox.EventShipmentCreated, 7, 1)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusFailed, got.Status)
		assert.Equal(t, 2, got.Attempts)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "unexpected status 500: oops", *got.LastError)
		require.NotNil(t, got.NextAttemptAt)
		assert.True(t, got.NextAttemptAt.Equal(next), "next_attempt_at = %v, want %v", got.NextAttemptAt, next)
		assert.Equal(t, time.UTC, got.NextAttemptAt.Location())

		got.Status = outbox.StatusSent
		got.LastError = nil
		got.NextAttemptAt = nil
		sent, err := s.Update(ctx, got)
		require.NoError(t, err)
		assert.Nil(t, sent.LastError)
		assert.Nil(t, sent.NextAttemptAt)
		assert.Equal(t, int64(3), sent.Version)
	})

	t.Run("stale update", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		ev, err := s.Create(ctx, newEvent(7))
		require.NoError(t, err)

		first := ev
		first.Status = outbox.StatusSent
		_, err = s.Update(ctx, first)
		require.NoError(t, err)

		second := ev
		second.Status = outbox.StatusFailed
		second.Attempts = 1
		_, err = s.Update(ctx, second)
		assert.ErrorIs(t, err, outbox.ErrStale)

		got, err := s.FindByKey(ctx, outbox.EventShipmentCreated, 7, 1)
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusSent, got.Status)
		assert.Equal(t, 0, got.Attempts)
	})

	t.Run("update missing row", func(t *testing.T) {
		s := factory(t)
		_, err := s.Update(context.Background(), outbox.Event{ID: 999, Version: 1, Status: outbox.StatusSent})
		assert.ErrorIs(t, err, outbox.ErrStale)
	})

	t.Run("list due filters", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		seed := func(ref int64, mutate func(*outbox.Event)) int64 {
			ev, err := s.Create(ctx, newEvent(ref))
			require.NoError(t, err)
			mutate(&ev)
			saved, err := s.Update(ctx, ev)
			require.NoError(t, err)
			return saved.ID
		}

		pendingNew := seed(1, func(e *outbox.Event) {})
		failedDue := seed(2, func(e *outbox.Event) {
			e.Status, e.Attempts, e.NextAttemptAt = outbox.StatusFailed, 3, ptr(T0.Add(-time.Second))
		})
		failedAtNow := seed(3, func(e *outbox.Event) {
			e.Status, e.Attempts, e.NextAttemptAt = outbox.StatusFailed, 1, ptr(T0)
		})
		seed(4, func(e *outbox.Event) {
			e.Status, e.Attempts, e.NextAttemptAt = outbox.StatusFailed, 1, ptr(T0.Add(time.Second))
		})
		seed(5, func(e *outbox.Event) {
			e.Status, e.Attempts, e.NextAttemptAt = outbox.StatusFailed, 10, ptr(T0.Add(-time.Hour))
		})
		seed(6, func(e *outbox.Event) { e.Status = outbox.StatusSent })
		almostExhausted := seed(7, func(e *outbox.Event) {
			e.Status, e.Attempts, e.NextAttemptAt = outbox.StatusFailed, 9, ptr(T0.Add(-time.Hour))
		})

		paid := newEvent(8)
		paid.EventType = outbox.EventOrderPaid
		_, err := s.Create(ctx, paid)
		require.NoError(t, err)

		page, err := s.ListDue(ctx, outbox.DueQuery{
			EventType:   outbox.EventShipmentCreated,
			Now:         T0,
			MaxAttempts: 10,
			Limit:       50,
		})
		require.NoError(t, err)

		var ids []int64
		for _, ev := range page.Events {
			ids = append(ids, ev.ID)
		}
		assert.Equal(t, []int64{pendingNew, failedDue, failedAtNow, almostExhausted}, ids)
		assert.Equal(t, 4, page.Total)
	})

	t.Run("list due limit keeps total", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		var ids []int64
		for ref := int64(1); ref <= 5; ref++ {
			ev, err := s.Create(ctx, newEvent(ref))
			require.NoError(t, err)
			ids = append(ids, ev.ID)
		}

		page, err := s.ListDue(ctx, outbox.DueQuery{
			EventType:   outbox.EventShipmentCreated,
			Now:         T0,
			MaxAttempts: 10,
			Limit:       2,
		})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		require.Len(t, page.Events, 2)
		assert.Equal(t, ids[0], page.Events[0].ID)
		assert.Equal(t, ids[1], page.Events[1].ID)
	})

	t.Run("list due empty", func(t *testing.T) {
		s := factory(t)
		page, err := s.ListDue(context.Background(), outbox.DueQuery{
			EventType:   outbox.EventShipmentCreated,
			Now:         T0,
			MaxAttempts: 10,
			Limit:       50,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
		assert.Empty(t, page.Events)
	})
}

// TenantFactory returns an empty settings store.
type TenantFactory func(t *testing.T) tenant.Store

// RunTenant exercises a tenant.Store implementation.
func RunTenant(t *testing.T, factory TenantFactory) {
	t.Run("missing", func(t *testing.T) {
		s := factory(t)
		_, err := s.Lookup(context.Background(), 1)
		assert.ErrorIs(t, err, tenant.ErrNotFound)
	})

	t.Run("save and update", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		in := tenant.Settings{
			TenantID:     3,
			Enabled:      true,
			ClientID:     "cid",
			ClientSecret: "secret",
			StoreName:    "Tienda Sur",
			StoreURL:     "https://sur.test",
			ContactEmail: "ventas@sur.test",
		}
		require.NoError(t, s.Save(ctx, in))

		got, err := s.Lookup(ctx, 3)
		require.NoError(t, err)
		assert.False(t, got.UpdatedAt.IsZero())
		got.UpdatedAt = time.Time{}
		assert.Equal(t, in, got)

		in.Enabled = false
		in.ClientSecret = "rotated"
		require.NoError(t, s.Save(ctx, in))

		got, err = s.Lookup(ctx, 3)
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Equal(t, "rotated", got.ClientSecret)
	})
}
