package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/tml_hook/internal/logging"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	cachePrefix     = "tml:tenant:"
)

// CachedSource is a read-through Redis cache in front of another Source.
// Redis faults are logged and fall through to the wrapped source.
type CachedSource struct {
	next   Source
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedSource(next Source, rdb redis.UniversalClient, ttl time.Duration, logger *logging.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedSource{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(tenantID int64) string {
	return fmt.Sprintf("%s%d", cachePrefix, tenantID)
}

func (c *CachedSource) Lookup(ctx context.Context, tenantID int64) (Settings, error) {
	key := cacheKey(tenantID)

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s Settings
		if jerr := json.Unmarshal(b, &s); jerr == nil {
			return s, nil
		}
		c.logger.WithContext(ctx).WithTenant(tenantID).Warn("discarding unreadable cached tenant settings")
	case !errors.Is(err, redis.Nil):
		c.logger.WithContext(ctx).WithTenant(tenantID).WithError(err).Warn("tenant cache read failed")
	}

	s, err := c.next.Lookup(ctx, tenantID)
	if err != nil {
		return Settings{}, err
	}

	if b, err := json.Marshal(s); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.WithContext(ctx).WithTenant(tenantID).WithError(err).Warn("tenant cache write failed")
		}
	}
	return s, nil
}

func (c *CachedSource) Invalidate(ctx context.Context, tenantID int64) error {
	return c.rdb.Del(ctx, cacheKey(tenantID)).Err()
}
