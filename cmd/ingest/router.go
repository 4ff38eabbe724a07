package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/tml_hook/internal/auth"
	"github.com/austindbirch/tml_hook/internal/health"
	"github.com/austindbirch/tml_hook/internal/ingest"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

// newRouter serves health and metrics unauthenticated and everything under
// /v1 behind authn.
func newRouter(svc *ingest.Server, authn gin.HandlerFunc, checks []health.Checker, reg *prometheus.Registry, logger *logging.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", gin.WrapH(health.HTTPHandler(checks...)))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := r.Group("/")
	api.Use(authn)
	svc.Register(api)
	return r
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := tracing.FromHTTP(c.Request.Context(), c.Request.Header)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		entry := logger.WithContext(c.Request.Context()).WithFields(map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if id := c.GetInt64(auth.GinTenantKey); id > 0 {
			entry = entry.WithTenant(id)
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.FullPath() == "/healthz" || c.FullPath() == "/metrics":
			entry.Debug("request served")
		default:
			entry.Info("request served")
		}
	}
}
