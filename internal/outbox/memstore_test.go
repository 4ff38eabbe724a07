package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same version semantics as the SQL
// stores.
type memStore struct {
	mu      sync.Mutex
	rows    map[int64]Event
	nextID  int64
	creates int
	updates int

	// updateErrs are returned by successive Update calls before any write.
	updateErrs []error
	findErr    error
	listErr    error
	createErr  error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]Event)}
}

func (m *memStore) Create(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return Event{}, m.createErr
	}
	m.nextID++
	ev.ID = m.nextID
	ev.Version = 1
	m.rows[ev.ID] = ev
	m.creates++
	return ev, nil
}

func (m *memStore) Update(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		if err != nil {
			return Event{}, err
		}
	}
	cur, ok := m.rows[ev.ID]
	if !ok || cur.Version != ev.Version {
		return Event{}, ErrStale
	}
	ev.Version++
	m.rows[ev.ID] = ev
	m.updates++
	return ev, nil
}

func (m *memStore) FindByKey(_ context.Context, eventType EventType, referenceID, tenantID int64) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return Event{}, m.findErr
	}
	for _, ev := range m.rows {
		if ev.EventType == eventType && ev.ReferenceID == referenceID && ev.TenantID == tenantID {
			return ev, nil
		}
	}
	return Event{}, ErrNotFound
}

func (m *memStore) ListDue(_ context.Context, q DueQuery) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return Page{}, m.listErr
	}
	var due []Event
	for _, ev := range m.rows {
		if ev.EventType != q.EventType {
			continue
		}
		if ev.Status != StatusPending && ev.Status != StatusFailed {
			continue
		}
		if ev.Attempts >= q.MaxAttempts {
			continue
		}
		if ev.NextAttemptAt != nil && ev.NextAttemptAt.After(q.Now) {
			continue
		}
		due = append(due, ev)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	page := Page{Total: len(due)}
	if q.Limit < len(due) {
		due = due[:q.Limit]
	}
	page.Events = due
	return page, nil
}

func (m *memStore) get(id int64) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// seed inserts a row as is and returns it with ID and Version set.
func (m *memStore) seed(ev Event) Event {
	created, _ := m.Create(context.Background(), ev)
	return created
}

type sendCall struct {
	payload   any
	eventID   string
	tenantID  int64
	eventType string
}

// fakeSender returns errs[eventID] for each call, or nil.
type fakeSender struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []sendCall
}

func (f *fakeSender) Send(_ context.Context, payload any, eventID string, tenantID int64, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{payload, eventID, tenantID, eventType})
	if f.errs != nil {
		return f.errs[eventID]
	}
	return nil
}

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) DeadLetter(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

// reasonErr mimics the API client's classified errors.
type reasonErr struct {
	msg    string
	reason string
}

func (e *reasonErr) Error() string  { return e.msg }
func (e *reasonErr) Reason() string { return e.reason }

var errDown = errors.New("database is down")

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
