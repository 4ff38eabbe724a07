// Package app builds the shared component graph used by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/db"
	"github.com/austindbirch/tml_hook/internal/health"
	"github.com/austindbirch/tml_hook/internal/intake"
	"github.com/austindbirch/tml_hook/internal/lock"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/rates"
	"github.com/austindbirch/tml_hook/internal/store/postgres"
	"github.com/austindbirch/tml_hook/internal/store/sqlite"
	"github.com/austindbirch/tml_hook/internal/tenant"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
	"github.com/austindbirch/tml_hook/internal/webhook"
)

// bootstrapTenant receives TML_CLIENT_ID/TML_CLIENT_SECRET when they are set.
const bootstrapTenant = 1

type App struct {
	Config config.Config
	Logger *logging.Logger

	Outbox  outbox.Store
	Tenants tenant.Store
	// Source is Tenants behind the Redis cache when Redis is configured.
	Source tenant.Source
	Redis  redis.UniversalClient
	Locker *lock.Locker

	// Each family of TML calls has its own client and breaker.
	WebhookAPI  *tmlapi.Client
	RatesAPI    *tmlapi.Client
	StoresAPI   *tmlapi.Client
	Dispatcher  *webhook.Dispatcher
	Status      *outbox.StatusManager
	Publisher   *outbox.Publisher
	Sweeper     *outbox.Sweeper
	Rates       *rates.Client
	Carrier     *rates.Carrier
	Provisioner *tenant.Provisioner
	Intake      *intake.Handler

	Checks  []health.Checker
	closers []func()
}

type options struct {
	sink  outbox.DeadLetterSink
	doer  tmlapi.Doer
	clock func() time.Time
}

type Option func(*options)

// WithDeadLetterSink forwards exhausted rows, e.g. to the NSQ DLQ topic.
func WithDeadLetterSink(s outbox.DeadLetterSink) Option {
	return func(o *options) { o.sink = s }
}

// WithDoer replaces the HTTP client used for TML calls.
func WithDoer(d tmlapi.Doer) Option {
	return func(o *options) { o.doer = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New connects the configured store and Redis, runs migrations and wires
// every component. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.Default()
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.openRedis(ctx)

	a.WebhookAPI = newAPIClient("tml-webhooks", cfg, o.doer)
	a.RatesAPI = newAPIClient("tml-rates", cfg, o.doer)
	a.StoresAPI = newAPIClient("tml-stores", cfg, o.doer)

	resolver := cfg.Resolver()
	a.Dispatcher = webhook.NewDispatcher(a.WebhookAPI, a.Source, resolver,
		webhook.WithProvider(cfg.API.Provider),
		webhook.WithLogger(logger),
	)

	outboxOpts := []outbox.Option{outbox.WithLogger(logger), outbox.WithClock(o.clock)}
	if o.sink != nil {
		outboxOpts = append(outboxOpts, outbox.WithDeadLetterSink(o.sink))
	}
	a.Status = outbox.NewStatusManager(a.Outbox, cfg.Policy(), outboxOpts...)
	a.Publisher = outbox.NewPublisher(a.Outbox, a.Dispatcher, a.Status, outboxOpts...)
	a.Sweeper = outbox.NewSweeper(a.Outbox, a.Dispatcher, a.Status, outboxOpts...)

	a.Rates = rates.NewClient(a.RatesAPI, a.Source, resolver, cfg.API.Provider, logger)
	a.Carrier = rates.NewCarrier(a.Rates, a.Source, "TML", logger)

	var inv tenant.Invalidator
	if c, ok := a.Source.(*tenant.CachedSource); ok {
		inv = c
	}
	a.Provisioner = tenant.NewProvisioner(a.Tenants, a.StoresAPI, resolver, inv, logger)
	a.Intake = intake.NewHandler(a.Source, a.Publisher, a.Dispatcher, logger)

	if err := a.bootstrap(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newAPIClient(name string, cfg config.Config, doer tmlapi.Doer) *tmlapi.Client {
	breaker := tmlapi.NewBreaker(name, cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout)
	opts := []tmlapi.ClientOption{tmlapi.WithBreaker(breaker), tmlapi.WithTimeout(cfg.API.Timeout)}
	if doer != nil {
		opts = append(opts, tmlapi.WithDoer(doer))
	}
	return tmlapi.NewClient(opts...)
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.DB.Driver {
	case "sqlite":
		conn, err := db.OpenSQLite(ctx, a.Config.DB.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", a.Config.DB.SQLitePath, err)
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		if err := db.MigrateSQLite(conn); err != nil {
			return err
		}
		a.Outbox = sqlite.NewOutboxStore(conn)
		a.Tenants = sqlite.NewTenantStore(conn)
		a.Checks = append(a.Checks, health.SQL(conn))

	case "postgres", "":
		if err := db.MigratePostgres(a.Config.DSN()); err != nil {
			return err
		}
		pool, err := db.Connect(ctx, a.Config.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Outbox = postgres.NewOutboxStore(pool)
		a.Tenants = postgres.NewTenantStore(pool)
		a.Checks = append(a.Checks, health.Postgres(pool))

	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", a.Config.DB.Driver)
	}
	a.Source = a.Tenants
	return nil
}

// openRedis is best effort: without Redis the tenant cache is skipped and
// Locker stays nil.
func (a *App) openRedis(ctx context.Context) {
	if a.Config.Redis.Addr == "" {
		a.Logger.Plain().Warn("REDIS_ADDR empty; tenant cache and sweep lock disabled")
		return
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.Logger.Plain().WithError(err).WithField("addr", a.Config.Redis.Addr).Warn("redis ping failed; continuing")
	}

	a.Redis = rdb
	a.Source = tenant.NewCachedSource(a.Tenants, rdb, a.Config.Redis.CacheTTL, a.Logger)
	a.Locker = lock.New(rdb, a.Config.Redis.LockTTL, a.Logger)
	a.Checks = append(a.Checks, health.Redis(rdb))
}

// bootstrap stores the configured credentials for the default tenant when it
// has none yet.
func (a *App) bootstrap(ctx context.Context) error {
	creds := tenant.Credentials{ClientID: a.Config.API.ClientID, ClientSecret: a.Config.API.ClientSecret}
	if !creds.Complete() {
		return nil
	}

	cur, err := a.Tenants.Lookup(ctx, bootstrapTenant)
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		cur = tenant.Settings{TenantID: bootstrapTenant, Enabled: true}
	case err != nil:
		return fmt.Errorf("load bootstrap tenant: %w", err)
	case cur.Credentials().Complete():
		return nil
	}

	cur.ClientID, cur.ClientSecret = creds.ClientID, creds.ClientSecret
	if err := a.Tenants.Save(ctx, cur); err != nil {
		return fmt.Errorf("save bootstrap tenant: %w", err)
	}
	if c, ok := a.Source.(*tenant.CachedSource); ok {
		_ = c.Invalidate(ctx, bootstrapTenant)
	}
	a.Logger.Plain().WithTenant(bootstrapTenant).Info("bootstrap credentials stored")
	return nil
}

// Sweep runs one sweep, under the Redis lock when useLock is set.
// lock.ErrLocked is returned when another process holds it.
func (a *App) Sweep(ctx context.Context, limit int, useLock bool) (outbox.Report, error) {
	var report outbox.Report
	run := func(ctx context.Context) error {
		var err error
		report, err = a.Sweeper.RunSweep(ctx, limit)
		return err
	}
	if !useLock {
		return report, run(ctx)
	}
	if a.Locker == nil {
		return report, errors.New("sweep lock requested but Redis is not configured")
	}
	err := a.Locker.WithLock(ctx, a.Config.Outbox.SweepLockKey, run)
	return report, err
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
