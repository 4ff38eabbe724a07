package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/tml_hook/internal/lock"
	"github.com/austindbirch/tml_hook/internal/outbox"
)

type fakeSweeper struct {
	report  outbox.Report
	err     error
	limit   int
	useLock bool
}

func (f *fakeSweeper) Sweep(_ context.Context, limit int, useLock bool) (outbox.Report, error) {
	f.limit, f.useLock = limit, useLock
	return f.report, f.err
}

func TestRunRetryClampsLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1},
		{50, 50},
		{9000, 500},
	}
	for _, tt := range tests {
		s := &fakeSweeper{}
		if err := runRetry(context.Background(), &bytes.Buffer{}, s, tt.in, true, false); err != nil {
			t.Fatalf("runRetry() error = %v", err)
		}
		if s.limit != tt.want || !s.useLock {
			t.Errorf("runRetry(limit=%d) swept with limit %d lock %v, want %d true", tt.in, s.limit, s.useLock, tt.want)
		}
	}
}

func TestRunRetryOutput(t *testing.T) {
	s := &fakeSweeper{report: outbox.Report{
		Candidates: 3,
		Sent:       1,
		Failed:     2,
		SampleFailures: []outbox.Failure{
			{EventID: "shipment:7", TenantID: 1, AttemptsBefore: 2, Error: "unexpected status 500: oops"},
			{EventID: "shipment:9", TenantID: 2, AttemptsBefore: 0, Error: "tenant 2 has no TML credentials"},
		},
	}}
	var out bytes.Buffer

	if err := runRetry(context.Background(), &out, s, 50, false, false); err != nil {
		t.Fatalf("runRetry() error = %v, want nil even with failed rows", err)
	}

	got := out.String()
	for _, want := range []string{
		"[TML] Done. Sent=1 Failed=2 Candidates=3",
		"Failures (first 2):",
		"shipment:7 tenant=1 attempts=2: unexpected status 500: oops",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunRetryNothingDue(t *testing.T) {
	var out bytes.Buffer
	if err := runRetry(context.Background(), &out, &fakeSweeper{}, 50, false, false); err != nil {
		t.Fatalf("runRetry() error = %v", err)
	}
	if !strings.Contains(out.String(), "No events due for retry.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunRetryJSON(t *testing.T) {
	s := &fakeSweeper{report: outbox.Report{RunID: "run-1", Limit: 50, Candidates: 1, Sent: 1}}
	var out bytes.Buffer
	if err := runRetry(context.Background(), &out, s, 50, false, true); err != nil {
		t.Fatalf("runRetry() error = %v", err)
	}
	var got outbox.Report
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, out.String())
	}
	if got.RunID != "run-1" || got.Sent != 1 {
		t.Errorf("report = %+v", got)
	}
}

func TestRunRetryErrors(t *testing.T) {
	t.Run("sweep failure is returned", func(t *testing.T) {
		err := runRetry(context.Background(), &bytes.Buffer{}, &fakeSweeper{err: errors.New("db down")}, 50, false, false)
		if err == nil || !strings.Contains(err.Error(), "db down") {
			t.Errorf("runRetry() error = %v, want sweep failure", err)
		}
	})

	t.Run("held lock is not a failure", func(t *testing.T) {
		var out bytes.Buffer
		err := runRetry(context.Background(), &out, &fakeSweeper{err: lock.ErrLocked}, 50, true, false)
		if err != nil {
			t.Errorf("runRetry() error = %v, want nil", err)
		}
		if !strings.Contains(out.String(), "Another sweep holds the lock") {
			t.Errorf("output = %q", out.String())
		}
	})
}

type fakeRows struct {
	ev  outbox.Event
	err error
}

func (f fakeRows) FindByKey(_ context.Context, eventType outbox.EventType, referenceID, tenantID int64) (outbox.Event, error) {
	if f.err != nil {
		return outbox.Event{}, f.err
	}
	if eventType != f.ev.EventType || referenceID != f.ev.ReferenceID || tenantID != f.ev.TenantID {
		return outbox.Event{}, outbox.ErrNotFound
	}
	return f.ev, nil
}

func TestRunShow(t *testing.T) {
	lastErr := "unexpected status 503"
	next := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	rows := fakeRows{ev: outbox.Event{ID: 4, EventID: "shipment:42", EventType: outbox.EventShipmentCreated, ReferenceID: 42,
		TenantID: 1, Status: outbox.StatusFailed, Attempts: 2, LastError: &lastErr, NextAttemptAt: &next}}

	var out bytes.Buffer
	if err := runShow(context.Background(), &out, rows, outbox.EventShipmentCreated, 42, 1, false); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	for _, want := range []string{"shipment:42", "failed", "Attempts:     2", "unexpected status 503", "2025-03-01T12:05:00Z"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := runShow(context.Background(), &out, rows, outbox.EventShipmentCreated, 42, 1, true); err != nil {
		t.Fatalf("runShow(json) error = %v", err)
	}
	var view rowView
	if err := json.Unmarshal(out.Bytes(), &view); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if view.Status != "failed" || view.Attempts != 2 {
		t.Errorf("view = %+v", view)
	}
}

func TestRunShowErrors(t *testing.T) {
	tests := []struct {
		name     string
		rows     fakeRows
		ref      int64
		tenantID int64
		want     string
	}{
		{"missing flags", fakeRows{}, 0, 1, "--tenant and --ref are required"},
		{"unknown row", fakeRows{}, 42, 1, "no shipment_created row for reference 42"},
		{"store error", fakeRows{err: errors.New("db down")}, 42, 1, "db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runShow(context.Background(), &bytes.Buffer{}, tt.rows, outbox.EventShipmentCreated, tt.ref, tt.tenantID, false)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("runShow() error = %v, want %q", err, tt.want)
			}
		})
	}
}
