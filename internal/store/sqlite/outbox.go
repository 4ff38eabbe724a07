// Package sqlite implements the outbox and tenant stores on an embedded
// SQLite file for local runs and tests. Timestamps are stored as unix
// microseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/austindbirch/tml_hook/internal/outbox"
)

const outboxColumns = `id, event_id, event_type, reference_id, tenant_id, payload_json,
	status, attempts, last_error, next_attempt_at, version, created_at, updated_at`

type OutboxStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db, now: time.Now}
}

func (s *OutboxStore) Create(ctx context.Context, ev outbox.Event) (outbox.Event, error) {
	const op = "sqlite.OutboxStore.Create"
	ts := toMicros(s.now())
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tml_outbox (event_id, event_type, reference_id, tenant_id, payload_json,
			status, attempts, last_error, next_attempt_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		RETURNING `+outboxColumns,
		ev.EventID, string(ev.EventType), ev.ReferenceID, ev.TenantID, ev.PayloadJSON,
		string(ev.Status), ev.Attempts, nullString(ev.LastError), nullMicros(ev.NextAttemptAt), ts, ts,
	)
	created, err := scanEvent(row)
	if isUniqueViolation(err) {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, outbox.ErrDuplicate)
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

func (s *OutboxStore) Update(ctx context.Context, ev outbox.Event) (outbox.Event, error) {
	const op = "sqlite.OutboxStore.Update"
	row := s.db.QueryRowContext(ctx, `
		UPDATE tml_outbox
		SET event_id = ?, payload_json = ?, status = ?, attempts = ?,
			last_error = ?, next_attempt_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
		RETURNING `+outboxColumns,
		ev.EventID, ev.PayloadJSON, string(ev.Status), ev.Attempts,
		nullString(ev.LastError), nullMicros(ev.NextAttemptAt), toMicros(s.now()),
		ev.ID, ev.Version,
	)
	saved, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, fmt.Errorf("%s: row %d: %w", op, ev.ID, outbox.ErrStale)
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return saved, nil
}

func (s *OutboxStore) FindByKey(ctx context.Context, eventType outbox.EventType, referenceID, tenantID int64) (outbox.Event, error) {
	const op = "sqlite.OutboxStore.FindByKey"
	row := s.db.QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM tml_outbox
		WHERE event_type = ? AND reference_id = ? AND tenant_id = ?`,
		string(eventType), referenceID, tenantID,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, outbox.ErrNotFound)
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return ev, nil
}

const dueFilter = `
	WHERE event_type = ?
	  AND status IN ('pending', 'failed')
	  AND attempts < ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`

func (s *OutboxStore) ListDue(ctx context.Context, q outbox.DueQuery) (outbox.Page, error) {
	const op = "sqlite.OutboxStore.ListDue"
	now := toMicros(q.Now)

	var page outbox.Page
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tml_outbox`+dueFilter,
		string(q.EventType), q.MaxAttempts, now,
	).Scan(&page.Total); err != nil {
		return outbox.Page{}, fmt.Errorf("%s: count: %w", op, err)
	}

	limit := q.Limit
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM tml_outbox`+dueFilter+`
		ORDER BY id ASC
		LIMIT ?`,
		string(q.EventType), q.MaxAttempts, now, limit,
	)
	if err != nil {
		return outbox.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return outbox.Page{}, fmt.Errorf("%s: scan: %w", op, err)
		}
		page.Events = append(page.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return outbox.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	return page, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (outbox.Event, error) {
	var (
		ev                   outbox.Event
		eventType, status    string
		lastError            sql.NullString
		nextAttempt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&ev.ID, &ev.EventID, &eventType, &ev.ReferenceID, &ev.TenantID, &ev.PayloadJSON,
		&status, &ev.Attempts, &lastError, &nextAttempt, &ev.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return outbox.Event{}, err
	}
	ev.EventType = outbox.EventType(eventType)
	ev.Status = outbox.Status(status)
	if lastError.Valid {
		ev.LastError = &lastError.String
	}
	if nextAttempt.Valid {
		t := fromMicros(nextAttempt.Int64)
		ev.NextAttemptAt = &t
	}
	ev.CreatedAt = fromMicros(createdAt)
	ev.UpdatedAt = fromMicros(updatedAt)
	return ev, nil
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || strings.Contains(se.Error(), "UNIQUE constraint failed")
}
