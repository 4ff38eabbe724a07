package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
)

const (
	DefaultSweepLimit = 50
	MaxSweepLimit     = 500
)

type DB struct {
	Driver     string // postgres or sqlite
	User       string
	Pass       string
	Host       string
	Port       string
	Name       string
	SQLitePath string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. http://nsqd:4151, used for /stats
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	EventsTopic    string // topic producers publish delivery.Message to
	WorkerChannel  string // NSQ channel name for workers
	DLQTopic       string // Dead letter queue topic
	PublishDLQ     bool   // Whether exhausted rows are published to the DLQ
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration // expiry of the sweep lock
	CacheTTL time.Duration // tenant settings cache entry TTL
}

type API struct {
	Mode         string // production or development
	DevBaseURL   string
	ProdBaseURL  string
	Provider     string // X-Provider header value
	Timeout      time.Duration
	ClientID     string // bootstrap credentials for tenant 1
	ClientSecret string
}

type Outbox struct {
	MaxAttempts     int
	BackoffSchedule []time.Duration
	SweepLimit      int
	SweepInterval   time.Duration
	SweepLockKey    string
}

type Breaker struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type Auth struct {
	PublicKeyPath string // PEM encoded RSA public key
	Issuer        string
	Audience      string
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	ClientSecret    string        // Secret for X-Hmac-Sha256 verification
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName        string
	HTTPPort       string // :8080, ingest API
	WorkerHTTPPort string // :8083, worker health and metrics
	OTLPEndpoint   string
	DB             DB
	NSQ            NSQ
	Redis          Redis
	API            API
	Outbox         Outbox
	Breaker        Breaker
	Auth           Auth
	FakeReceiver   FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return outbox.DefaultPolicy().Backoff
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil && d > 0 {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		return outbox.DefaultPolicy().Backoff
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "tml_hook"),
		HTTPPort:       getenv("HTTP_PORT", ":8080"),
		WorkerHTTPPort: ":" + getenv("WORKER_HTTP_PORT", "8083"),
		OTLPEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		DB: DB{
			Driver:     getenv("STORE_DRIVER", "postgres"),
			User:       getenv("DB_USER", "postgres"),
			Pass:       getenv("DB_PASS", "postgres"),
			Host:       getenv("DB_HOST", "postgres"),
			Port:       getenv("DB_PORT", "5432"),
			Name:       getenv("DB_NAME", "tml_hook"),
			SQLitePath: getenv("SQLITE_PATH", "tml_hook.db"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "http://nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			EventsTopic:    getenv("NSQ_EVENTS_TOPIC", "tml_events"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "workers"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "tml_events_dlq"),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", true),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "redis:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			LockTTL:  getenvDuration("SWEEP_LOCK_TTL", 10*time.Minute),
			CacheTTL: getenvDuration("TENANT_CACHE_TTL", 5*time.Minute),
		},
		API: API{
			Mode:         getenv("TML_MODE", string(tmlapi.ModeProduction)),
			DevBaseURL:   getenv("TML_DEV_BASE_URL", tmlapi.DefaultDevBaseURL),
			ProdBaseURL:  getenv("TML_PROD_BASE_URL", tmlapi.DefaultProdBaseURL),
			Provider:     getenv("TML_PROVIDER", tmlapi.DefaultProvider),
			Timeout:      getenvDuration("TML_API_TIMEOUT", tmlapi.DefaultTimeout),
			ClientID:     getenv("TML_CLIENT_ID", ""),
			ClientSecret: getenv("TML_CLIENT_SECRET", ""),
		},
		Outbox: Outbox{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 10),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			SweepLimit:      ClampLimit(getenvInt("SWEEP_LIMIT", DefaultSweepLimit)),
			SweepInterval:   getenvDuration("SWEEP_INTERVAL", time.Minute),
			SweepLockKey:    getenv("SWEEP_LOCK_KEY", "tml:outbox:sweep"),
		},
		Breaker: Breaker{
			MaxFailures: uint32(getenvInt("BREAKER_MAX_FAILURES", 5)),
			OpenTimeout: getenvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Auth: Auth{
			PublicKeyPath: getenv("JWT_PUBLIC_KEY_PATH", ""),
			Issuer:        getenv("JWT_ISSUER", "tml_hook"),
			Audience:      getenv("JWT_AUDIENCE", "tml_hook-api"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ClientSecret:    getenv("FAKE_RECEIVER_CLIENT_SECRET", ""),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Policy is the retry policy the status manager and sweeper run with.
func (c Config) Policy() outbox.Policy {
	p := outbox.DefaultPolicy()
	if c.Outbox.MaxAttempts > 0 {
		p.MaxAttempts = c.Outbox.MaxAttempts
	}
	if len(c.Outbox.BackoffSchedule) > 0 {
		p.Backoff = append([]time.Duration(nil), c.Outbox.BackoffSchedule...)
	}
	return p
}

func (c Config) Resolver() tmlapi.Resolver {
	return tmlapi.Resolver{
		Mode:        tmlapi.ParseMode(c.API.Mode),
		DevBaseURL:  c.API.DevBaseURL,
		ProdBaseURL: c.API.ProdBaseURL,
	}
}

// ClampLimit bounds a sweep limit to 1..MaxSweepLimit.
func ClampLimit(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxSweepLimit:
		return MaxSweepLimit
	default:
		return n
	}
}
