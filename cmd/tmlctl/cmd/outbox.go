package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/lock"
	"github.com/austindbirch/tml_hook/internal/outbox"
)

type sweeper interface {
	Sweep(ctx context.Context, limit int, useLock bool) (outbox.Report, error)
}

type rowFinder interface {
	FindByKey(ctx context.Context, eventType outbox.EventType, referenceID, tenantID int64) (outbox.Event, error)
}

// outboxCmd represents the outbox command
var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and retry webhook outbox rows",
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry due outbox events",
	Long: `Run one retry sweep over due shipment rows.

The command exits 0 even when individual rows fail again; those failures
are recorded on the rows and listed in the output. It exits non-zero only
when the sweep itself fails.

Examples:
  tmlctl outbox retry
  tmlctl outbox retry --limit 200 --lock
  tmlctl outbox retry --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		useLock, _ := cmd.Flags().GetBool("lock")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runRetry(ctx, cmd.OutOrStdout(), a, limit, useLock, outputJSON)
	},
}

func runRetry(ctx context.Context, w io.Writer, s sweeper, limit int, useLock, asJSON bool) error {
	limit = config.ClampLimit(limit)
	if !asJSON {
		fmt.Fprintln(w, "[TML] Retrying outbox events...")
	}

	report, err := s.Sweep(ctx, limit, useLock)
	if errors.Is(err, lock.ErrLocked) {
		fmt.Fprintln(w, "[TML] Another sweep holds the lock; nothing done.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("[TML] command failed: %w", err)
	}

	if asJSON {
		return printJSON(w, report)
	}
	printReport(w, report)
	return nil
}

func printReport(w io.Writer, r outbox.Report) {
	fmt.Fprintf(w, "[TML] Done. Sent=%d Failed=%d Candidates=%d\n", r.Sent, r.Failed, r.Candidates)
	if r.Candidates == 0 {
		fmt.Fprintln(w, "[TML] No events due for retry.")
		return
	}
	if len(r.SampleFailures) == 0 {
		return
	}
	fmt.Fprintf(w, "Failures (first %d):\n", len(r.SampleFailures))
	for _, f := range r.SampleFailures {
		fmt.Fprintf(w, "  %s tenant=%d attempts=%d: %s\n", f.EventID, f.TenantID, f.AttemptsBefore, f.Error)
	}
}

var outboxShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one outbox row",
	Long: `Show the delivery state of the outbox row for a business event.

Examples:
  tmlctl outbox show --tenant 1 --ref 42
  tmlctl outbox show --tenant 1 --type shipment_created --ref 42 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetInt64("tenant")
		eventType, _ := cmd.Flags().GetString("type")
		ref, _ := cmd.Flags().GetInt64("ref")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runShow(ctx, cmd.OutOrStdout(), a.Outbox, outbox.EventType(eventType), ref, tenantID, outputJSON)
	},
}

type rowView struct {
	ID            int64      `json:"id"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	ReferenceID   int64      `json:"reference_id"`
	TenantID      int64      `json:"tenant_id"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Payload       string     `json:"payload_json"`
}

func runShow(ctx context.Context, w io.Writer, rows rowFinder, eventType outbox.EventType, ref, tenantID int64, asJSON bool) error {
	if tenantID <= 0 || ref <= 0 {
		return errors.New("--tenant and --ref are required")
	}
	ev, err := rows.FindByKey(ctx, eventType, ref, tenantID)
	if errors.Is(err, outbox.ErrNotFound) {
		return fmt.Errorf("no %s row for reference %d (tenant %d)", eventType, ref, tenantID)
	}
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(w, rowView{
			ID: ev.ID, EventID: ev.EventID, EventType: string(ev.EventType), ReferenceID: ev.ReferenceID,
			TenantID: ev.TenantID, Status: string(ev.Status), Attempts: ev.Attempts, LastError: ev.LastError,
			NextAttemptAt: ev.NextAttemptAt, CreatedAt: ev.CreatedAt, UpdatedAt: ev.UpdatedAt, Payload: ev.PayloadJSON,
		})
	}

	fmt.Fprintf(w, "ID:           %d\n", ev.ID)
	fmt.Fprintf(w, "Event ID:     %s\n", ev.EventID)
	fmt.Fprintf(w, "Event type:   %s\n", ev.EventType)
	fmt.Fprintf(w, "Tenant:       %d\n", ev.TenantID)
	fmt.Fprintf(w, "Status:       %s\n", ev.Status)
	fmt.Fprintf(w, "Attempts:     %d\n", ev.Attempts)
	if ev.LastError != nil {
		fmt.Fprintf(w, "Last error:   %s\n", *ev.LastError)
	}
	if ev.NextAttemptAt != nil {
		fmt.Fprintf(w, "Next attempt: %s\n", ev.NextAttemptAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Updated:      %s\n", ev.UpdatedAt.UTC().Format(time.RFC3339))
	return nil
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxRetryCmd)
	outboxCmd.AddCommand(outboxShowCmd)

	outboxRetryCmd.Flags().Int("limit", config.DefaultSweepLimit, "max events to process (1-500)")
	outboxRetryCmd.Flags().Bool("lock", false, "hold the Redis sweep lock while running")

	outboxShowCmd.Flags().Int64("tenant", 0, "tenant id")
	outboxShowCmd.Flags().String("type", string(outbox.EventShipmentCreated), "event type")
	outboxShowCmd.Flags().Int64("ref", 0, "business reference id, e.g. the shipment id")
}
