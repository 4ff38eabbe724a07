// Package postgres implements the outbox and tenant stores on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/austindbirch/tml_hook/internal/outbox"
)

const outboxColumns = `id, event_id, event_type, reference_id, tenant_id, payload_json,
	status, attempts, last_error, next_attempt_at, version, created_at, updated_at`

// OutboxStore is the production outbox.Store.
type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

func (s *OutboxStore) Create(ctx context.Context, ev outbox.Event) (outbox.Event, error) {
	const op = "postgres.OutboxStore.Create"
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tml_outbox (event_id, event_type, reference_id, tenant_id, payload_json,
			status, attempts, last_error, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+outboxColumns,
		ev.EventID, string(ev.EventType), ev.ReferenceID, ev.TenantID, ev.PayloadJSON,
		string(ev.Status), ev.Attempts, ev.LastError, utcPtr(ev.NextAttemptAt),
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
	const op = "postgres.OutboxStore.Update"
	row := s.pool.QueryRow(ctx, `
		UPDATE tml_outbox
		SET event_id = $2, payload_json = $3, status = $4, attempts = $5,
			last_error = $6, next_attempt_at = $7, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $8
		RETURNING `+outboxColumns,
		ev.ID, ev.EventID, ev.PayloadJSON, string(ev.Status), ev.Attempts,
		ev.LastError, utcPtr(ev.NextAttemptAt), ev.Version,
	)
	saved, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return outbox.Event{}, fmt.Errorf("%s: row %d: %w", op, ev.ID, outbox.ErrStale)
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return saved, nil
}

func (s *OutboxStore) FindByKey(ctx context.Context, eventType outbox.EventType, referenceID, tenantID int64) (outbox.Event, error) {
	const op = "postgres.OutboxStore.FindByKey"
	row := s.pool.QueryRow(ctx, `
		SELECT `+outboxColumns+`
		FROM tml_outbox
		WHERE event_type = $1 AND reference_id = $2 AND tenant_id = $3`,
		string(eventType), referenceID, tenantID,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, outbox.ErrNotFound)
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("%s: %w", op, err)
	}
	return ev, nil
}

const dueFilter = `
	WHERE event_type = $1
	  AND status IN ('pending', 'failed')
	  AND attempts < $2
	  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)`

func (s *OutboxStore) ListDue(ctx context.Context, q outbox.DueQuery) (outbox.Page, error) {
	const op = "postgres.OutboxStore.ListDue"
	now := q.Now.UTC()

	var page outbox.Page
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tml_outbox`+dueFilter,
		string(q.EventType), q.MaxAttempts, now,
	).Scan(&page.Total); err != nil {
		return outbox.Page{}, fmt.Errorf("%s: count: %w", op, err)
	}

	limit := q.Limit
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+outboxColumns+` FROM tml_outbox`+dueFilter+`
		ORDER BY id ASC
		LIMIT $4`,
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

func scanEvent(row pgx.Row) (outbox.Event, error) {
	var (
		ev        outbox.Event
		eventType string
		status    string
	)
	err := row.Scan(
		&ev.ID, &ev.EventID, &eventType, &ev.ReferenceID, &ev.TenantID, &ev.PayloadJSON,
		&status, &ev.Attempts, &ev.LastError, &ev.NextAttemptAt, &ev.Version,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return outbox.Event{}, err
	}
	ev.EventType = outbox.EventType(eventType)
	ev.Status = outbox.Status(status)
	ev.NextAttemptAt = utcPtr(ev.NextAttemptAt)
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	return ev, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
