package main

import (
	"context"
	"errors"
	"time"

	"github.com/austindbirch/tml_hook/internal/lock"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/outbox"
)

type sweepRunner interface {
	Sweep(ctx context.Context, limit int, useLock bool) (outbox.Report, error)
}

// unlocked sweeps without the Redis lock, for workers running without Redis.
type unlocked struct{ sweepRunner }

func (u unlocked) Sweep(ctx context.Context, limit int, _ bool) (outbox.Report, error) {
	return u.sweepRunner.Sweep(ctx, limit, false)
}

// runSweeps replays due outbox rows every interval until ctx is done. Each
// tick takes the cluster-wide sweep lock, so one replica sweeps at a time.
func runSweeps(ctx context.Context, r sweepRunner, interval time.Duration, limit int, logger *logging.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, r, limit, logger)
		}
	}
}

// sweepOnce reports whether a sweep ran to completion.
func sweepOnce(ctx context.Context, r sweepRunner, limit int, logger *logging.Logger) bool {
	report, err := r.Sweep(ctx, limit, true)
	switch {
	case errors.Is(err, lock.ErrLocked):
		logger.WithContext(ctx).Debug("sweep skipped; lock held by another worker")
		return false
	case err != nil:
		logger.WithContext(ctx).WithError(err).WithField("run_id", report.RunID).Error("outbox sweep failed")
		return false
	}
	if report.Failed > 0 {
		logger.WithContext(ctx).WithFields(map[string]any{
			"run_id":          report.RunID,
			"failed":          report.Failed,
			"sample_failures": report.SampleFailures,
		}).Warn("outbox sweep left failed rows")
	}
	return true
}
