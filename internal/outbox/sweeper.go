package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/metrics"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

const maxSampleFailures = 10

// Sender delivers one payload to the remote webhook endpoint.
type Sender interface {
	Send(ctx context.Context, payload any, eventID string, tenantID int64, eventType string) error
}

// Failure describes one failed row in a sweep report.
type Failure struct {
	EventID        string `json:"event_id"`
	TenantID       int64  `json:"tenant_id"`
	AttemptsBefore int    `json:"attempts_before"`
	Error          string `json:"error"`
}

// Report summarizes one RunSweep call.
type Report struct {
	RunID          string    `json:"run_id"`
	Now            time.Time `json:"now"`
	Limit          int       `json:"limit"`
	Candidates     int       `json:"candidates"`
	Sent           int       `json:"sent"`
	Failed         int       `json:"failed"`
	SampleFailures []Failure `json:"sample_failures"`
}

// Sweeper replays due shipment rows through the Sender.
type Sweeper struct {
	store  Store
	sender Sender
	status *StatusManager
	opts   options
}

func NewSweeper(store Store, sender Sender, status *StatusManager, opts ...Option) *Sweeper {
	return &Sweeper{store: store, sender: sender, status: status, opts: buildOptions(opts)}
}

// RunSweep makes one delivery attempt for each of up to limit due rows. The
// cutoff time is taken once. Row failures are recorded and counted; only a
// failure to list or persist rows ends the run with an error. limit is used
// as given.
func (s *Sweeper) RunSweep(ctx context.Context, limit int) (Report, error) {
	now := s.opts.now().UTC()
	report := Report{
		RunID:          uuid.NewString(),
		Now:            now,
		Limit:          limit,
		SampleFailures: []Failure{},
	}

	ctx, span := tracing.StartSpan(ctx, "outbox.sweep",
		attribute.String("run_id", report.RunID),
		attribute.Int("limit", limit),
	)
	defer span.End()
	rowLog := func(ev Event) *logging.LogEntry {
		return s.opts.logger.WithContext(ctx).WithField("run_id", report.RunID).
			WithOutbox(ev.ID).WithEvent(ev.EventID).WithTenant(ev.TenantID)
	}

	page, err := s.store.ListDue(ctx, DueQuery{
		EventType:   EventShipmentCreated,
		Now:         now,
		MaxAttempts: s.status.policy.MaxAttempts,
		Limit:       limit,
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordSweep("error", 0)
		return report, fmt.Errorf("list due outbox rows: %w", err)
	}
	report.Candidates = page.Total

	for _, ev := range page.Events {
		if err := ctx.Err(); err != nil {
			metrics.RecordSweep("error", report.Candidates)
			return report, err
		}

		sendErr := s.send(ctx, ev)
		delivered := sendErr == nil
		msg := ""
		if sendErr != nil {
			msg = sendErr.Error()
		}

		saved, err := s.status.Settle(ctx, ev, sendErr)
		switch {
		case errors.Is(err, ErrStale):
			rowLog(ev).WithError(err).Warn("outbox row changed during sweep")
		case err != nil:
			tracing.SetSpanError(ctx, err)
			metrics.RecordSweep("error", report.Candidates)
			return report, fmt.Errorf("settle outbox row %d: %w", ev.ID, err)
		default:
			delivered = saved.Status == StatusSent
			if saved.LastError != nil {
				msg = *saved.LastError
			}
		}

		if delivered {
			report.Sent++
			continue
		}

		report.Failed++
		rowLog(ev).WithField("attempts_before", ev.Attempts).WithField("error", msg).Warn("outbox retry failed")
		if len(report.SampleFailures) < maxSampleFailures {
			report.SampleFailures = append(report.SampleFailures, Failure{
				EventID:        ev.EventID,
				TenantID:       ev.TenantID,
				AttemptsBefore: ev.Attempts,
				Error:          msg,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("candidates", report.Candidates),
		attribute.Int("sent", report.Sent),
		attribute.Int("failed", report.Failed),
	)
	metrics.RecordSweep("ok", report.Candidates)
	s.opts.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":     report.RunID,
		"candidates": report.Candidates,
		"sent":       report.Sent,
		"failed":     report.Failed,
	}).Info("outbox sweep finished")
	return report, nil
}

func (s *Sweeper) send(ctx context.Context, ev Event) error {
	payload, err := decodePayload(ev.PayloadJSON)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, payload, ev.EventID, ev.TenantID, string(ev.EventType))
}

// decodePayload parses a stored body as a JSON object, keeping numbers exact.
func decodePayload(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if payload == nil {
		return nil, &ValidationError{Err: errors.New("payload is not a JSON object")}
	}
	if dec.More() {
		return nil, &ValidationError{Err: errors.New("trailing data after payload")}
	}
	return payload, nil
}
