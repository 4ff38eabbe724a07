package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const checkTimeout = 1 * time.Second

type Status struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Checker is one named dependency probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

func CheckFunc(name string, fn func(context.Context) error) Checker {
	return checkFunc{name: name, fn: fn}
}

func Postgres(pool *pgxpool.Pool) Checker {
	return CheckFunc("database", pool.Ping)
}

func SQL(db *sql.DB) Checker {
	return CheckFunc("database", db.PingContext)
}

func Redis(client redis.UniversalClient) Checker {
	return CheckFunc("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(checks ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}
		code := http.StatusOK

		if len(checks) > 0 {
			st.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()
			if err != nil {
				st.OK = false
				st.Message = c.Name() + " ping failed"
				st.Checks[c.Name()] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			st.Checks[c.Name()] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
