package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newSweeper(store *memStore, sender Sender, now time.Time) *Sweeper {
	m := NewStatusManager(store, DefaultPolicy(), WithClock(fixedClock(now)))
	return NewSweeper(store, sender, m, WithClock(fixedClock(now)))
}

func seedPending(store *memStore, n int) []Event {
	rows := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, store.seed(Event{
			EventID:     fmt.Sprintf("shipment:%d", i),
			EventType:   EventShipmentCreated,
			ReferenceID: int64(i),
			TenantID:    1,
			PayloadJSON: fmt.Sprintf(`{"shipment_id":%d}`, i),
			Status:      StatusPending,
		}))
	}
	return rows
}

func TestRunSweepLimit(t *testing.T) {
	store := newMemStore()
	seedPending(store, 5)
	sender := &fakeSender{errs: map[string]error{"shipment:2": errors.New("timeout")}}

	report, err := newSweeper(store, sender, t0).RunSweep(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}

	if report.Candidates != 5 {
		t.Errorf("Candidates = %d, want 5", report.Candidates)
	}
	if report.Sent+report.Failed != 2 {
		t.Errorf("Sent+Failed = %d, want 2", report.Sent+report.Failed)
	}
	if report.Sent != 1 || report.Failed != 1 {
		t.Errorf("Sent = %d Failed = %d, want 1 and 1", report.Sent, report.Failed)
	}
	if len(sender.calls) != 2 {
		t.Errorf("send calls = %d, want 2", len(sender.calls))
	}
	if report.Limit != 2 || !report.Now.Equal(t0) || report.RunID == "" {
		t.Errorf("report header = %+v", report)
	}
}

func TestRunSweepEligibility(t *testing.T) {
	store := newMemStore()
	due := store.seed(Event{EventID: "due-null", EventType: EventShipmentCreated, PayloadJSON: "{}", Status: StatusPending})
	past := store.seed(Event{EventID: "due-past", EventType: EventShipmentCreated, PayloadJSON: "{}", Status: StatusFailed,
		Attempts: 2, NextAttemptAt: timePtr(t0.Add(-time.Second))})
	boundary := store.seed(Event{EventID: "due-now", EventType: EventShipmentCreated, PayloadJSON: "{}", Status: StatusFailed,
		Attempts: 1, NextAttemptAt: timePtr(t0)})
	store.seed(Event{EventID: "future", EventType: EventShipmentCreated, PayloadJSON: "{}", Status: StatusFailed,
		Attempts: 1, NextAttemptAt: timePtr(t0.Add(time.Second))})
	store.seed(Event{EventID: "ceiling", EventType: EventShipmentCreated, PayloadJSON: "{}", Status: StatusFailed,
		Attempts: 10, NextAttemptAt: timePtr(t0.Add(-24 * time.Hour))})
	store.seed(Event{EventID: "sent", EventType: EventShipmentCreated, PayloadJSON: "{}", Status: StatusSent})
	store.seed(Event{EventID: "paid", EventType: EventOrderPaid, PayloadJSON: "{}", Status: StatusPending})

	sender := &fakeSender{}
	report, err := newSweeper(store, sender, t0).RunSweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}

	if report.Candidates != 3 || report.Sent != 3 {
		t.Errorf("Candidates = %d Sent = %d, want 3 and 3", report.Candidates, report.Sent)
	}
	var got []string
	for _, c := range sender.calls {
		got = append(got, c.eventID)
	}
	if want := []string{"due-null", "due-past", "due-now"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("sent event ids = %v, want %v", got, want)
	}
	for _, id := range []int64{due.ID, past.ID, boundary.ID} {
		if st := store.get(id).Status; st != StatusSent {
			t.Errorf("row %d status = %s, want sent", id, st)
		}
	}
}

func TestRunSweepHTTPFailureRecorded(t *testing.T) {
	store := newMemStore()
	row := seedPending(store, 1)[0]
	sender := &fakeSender{errs: map[string]error{
		"shipment:1": &reasonErr{msg: "webhook returned HTTP 500: oops", reason: "http_5xx"},
	}}

	report, err := newSweeper(store, sender, t0).RunSweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}

	stored := store.get(row.ID)
	if stored.Status != StatusFailed || stored.Attempts != 1 {
		t.Errorf("row = status %s attempts %d, want failed 1", stored.Status, stored.Attempts)
	}
	if stored.LastError == nil || !strings.Contains(*stored.LastError, "500") {
		t.Errorf("last_error = %v, want reference to HTTP 500", stored.LastError)
	}
	if want := t0.Add(time.Minute); !stored.NextAttemptAt.Equal(want) {
		t.Errorf("next_attempt_at = %v, want %v", stored.NextAttemptAt, want)
	}

	if len(report.SampleFailures) != 1 {
		t.Fatalf("SampleFailures = %d, want 1", len(report.SampleFailures))
	}
	f := report.SampleFailures[0]
	if f.EventID != "shipment:1" || f.TenantID != 1 || f.AttemptsBefore != 0 || !strings.Contains(f.Error, "oops") {
		t.Errorf("sample failure = %+v", f)
	}
}

func TestRunSweepMalformedPayload(t *testing.T) {
	store := newMemStore()
	bad := []Event{
		store.seed(Event{EventID: "broken", EventType: EventShipmentCreated, PayloadJSON: `{"a":`, Status: StatusPending}),
		store.seed(Event{EventID: "array", EventType: EventShipmentCreated, PayloadJSON: `[1,2]`, Status: StatusPending}),
		store.seed(Event{EventID: "null", EventType: EventShipmentCreated, PayloadJSON: `null`, Status: StatusPending}),
	}
	good := store.seed(Event{EventID: "good", EventType: EventShipmentCreated, PayloadJSON: `{"n":12345678901234567890}`, Status: StatusPending})

	sender := &fakeSender{}
	report, err := newSweeper(store, sender, t0).RunSweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}

	if report.Failed != 3 || report.Sent != 1 {
		t.Errorf("Failed = %d Sent = %d, want 3 and 1", report.Failed, report.Sent)
	}
	for _, row := range bad {
		stored := store.get(row.ID)
		if stored.Status != StatusFailed || stored.Attempts != 1 {
			t.Errorf("%s: status %s attempts %d, want failed 1", row.EventID, stored.Status, stored.Attempts)
		}
		if stored.LastError == nil || !strings.Contains(*stored.LastError, "invalid payload_json") {
			t.Errorf("%s: last_error = %v", row.EventID, stored.LastError)
		}
	}
	if len(sender.calls) != 1 || sender.calls[0].eventID != good.EventID {
		t.Fatalf("send calls = %+v, want only the good row", sender.calls)
	}
	payload := sender.calls[0].payload.(map[string]any)
	if n, ok := payload["n"].(json.Number); !ok || n.String() != "12345678901234567890" {
		t.Errorf("payload n = %#v, want exact json.Number", payload["n"])
	}
}

func TestRunSweepSampleCap(t *testing.T) {
	store := newMemStore()
	seedPending(store, 15)
	errs := make(map[string]error)
	for i := 1; i <= 15; i++ {
		errs[fmt.Sprintf("shipment:%d", i)] = errors.New("connection refused")
	}

	report, err := newSweeper(store, &fakeSender{errs: errs}, t0).RunSweep(context.Background(), 50)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}

	if report.Failed != 15 {
		t.Errorf("Failed = %d, want 15", report.Failed)
	}
	if len(report.SampleFailures) != maxSampleFailures {
		t.Errorf("SampleFailures = %d, want %d", len(report.SampleFailures), maxSampleFailures)
	}
	for i := int64(1); i <= 15; i++ {
		if got := store.get(i).Attempts; got != 1 {
			t.Errorf("row %d attempts = %d, want 1", i, got)
		}
	}
}

func TestRunSweepTwiceRespectsBackoff(t *testing.T) {
	store := newMemStore()
	seedPending(store, 1)
	sender := &fakeSender{errs: map[string]error{"shipment:1": errors.New("timeout")}}
	s := newSweeper(store, sender, t0)

	if _, err := s.RunSweep(context.Background(), 10); err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}
	report, err := s.RunSweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}
	if report.Candidates != 0 {
		t.Errorf("second sweep Candidates = %d, want 0 while backing off", report.Candidates)
	}

	later := newSweeper(store, sender, t0.Add(time.Minute))
	report, err = later.RunSweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}
	if report.Candidates != 1 || report.SampleFailures[0].AttemptsBefore != 1 {
		t.Errorf("third sweep = %+v, want one candidate with attempts_before 1", report)
	}
}

func TestRunSweepListError(t *testing.T) {
	store := newMemStore()
	store.listErr = errDown

	_, err := newSweeper(store, &fakeSender{}, t0).RunSweep(context.Background(), 10)
	if !errors.Is(err, errDown) {
		t.Errorf("RunSweep() error = %v, want %v", err, errDown)
	}
}

func TestRunSweepPersistErrorAborts(t *testing.T) {
	store := newMemStore()
	seedPending(store, 3)
	sender := &fakeSender{errs: map[string]error{"shipment:1": errors.New("timeout")}}
	store.updateErrs = []error{errDown}

	report, err := newSweeper(store, sender, t0).RunSweep(context.Background(), 10)
	if !errors.Is(err, errDown) {
		t.Fatalf("RunSweep() error = %v, want %v", err, errDown)
	}
	if len(sender.calls) != 1 {
		t.Errorf("send calls = %d, want 1 before abort", len(sender.calls))
	}
	if report.Candidates != 3 {
		t.Errorf("Candidates = %d, want 3", report.Candidates)
	}
}

func TestRunSweepStaleRowContinues(t *testing.T) {
	store := newMemStore()
	seedPending(store, 2)
	store.updateErrs = []error{ErrStale}

	report, err := newSweeper(store, &fakeSender{}, t0).RunSweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunSweep() error = %v", err)
	}
	if report.Sent != 2 {
		t.Errorf("Sent = %d, want 2", report.Sent)
	}
	if got := store.get(1).Status; got != StatusPending {
		t.Errorf("stale row status = %s, want untouched pending", got)
	}
	if got := store.get(2).Status; got != StatusSent {
		t.Errorf("row 2 status = %s, want sent", got)
	}
}

func TestRunSweepCancelled(t *testing.T) {
	store := newMemStore()
	seedPending(store, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := &fakeSender{}
	_, err := newSweeper(store, sender, t0).RunSweep(ctx, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunSweep() error = %v, want context.Canceled", err)
	}
	if len(sender.calls) != 0 {
		t.Errorf("send calls = %d, want 0", len(sender.calls))
	}
}

func TestReportJSON(t *testing.T) {
	r := Report{RunID: "r1", Now: t0, Limit: 50, Candidates: 2, Sent: 1, Failed: 1,
		SampleFailures: []Failure{{EventID: "shipment:1", TenantID: 3, AttemptsBefore: 2, Error: "boom"}}}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	for _, key := range []string{`"now"`, `"limit"`, `"candidates"`, `"sent"`, `"failed"`, `"sample_failures"`, `"attempts_before"`, `"tenant_id"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("report JSON %s missing %s", b, key)
		}
	}
}
