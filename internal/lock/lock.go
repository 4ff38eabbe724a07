// Package lock serializes work across worker replicas with a Redis mutex.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/tml_hook/internal/logging"
)

const DefaultExpiry = 10 * time.Minute

// ErrLocked means another process holds the key; fn was not run.
var ErrLocked = errors.New("lock: held by another process")

type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *logging.Logger
}

func New(client redis.UniversalClient, expiry time.Duration, logger *logging.Logger) *Locker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: logger,
	}
}

// WithLock runs fn while holding key. It makes a single acquisition attempt
// and returns ErrLocked when the key is taken. The key is extended while fn
// runs; if an extension fails, fn's context is cancelled. fn's error is
// returned as is.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("lock: empty key")
	}

	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if contended(err) {
			return ErrLocked
		}
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	defer func() {
		// Use a fresh context so a cancelled caller still releases the key.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.WithContext(ctx).WithField("lock_key", key).WithError(err).Warn("lock release failed")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := l.keepAlive(runCtx, cancel, mutex, key)
	err := fn(runCtx)
	stop()
	return err
}

// keepAlive extends mutex every third of the expiry until stop is called.
func (l *Locker) keepAlive(ctx context.Context, cancel context.CancelFunc, mutex *redsync.Mutex, key string) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.expiry / 3)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
					l.logger.WithContext(ctx).WithField("lock_key", key).WithError(err).Error("lock extend failed; stopping holder")
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func contended(err error) bool {
	return errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken")
}
