package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/tml_hook/internal/app"
	"github.com/austindbirch/tml_hook/internal/auth"
	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/ingest"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/metrics"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

const serviceName = "tml-ingest"

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := logging.New(serviceName)
	logging.SetDefault(logger)
	defer logger.Sync()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := tracing.Init(ctx, tracing.Options{
			ServiceName: serviceName,
			InstanceID:  uuid.NewString(),
			Endpoint:    cfg.OTLPEndpoint,
		})
		if err != nil {
			logger.Plain().WithError(err).Fatal("failed to initialize tracing")
		}
		defer shutdown()
	}

	if cfg.Auth.PublicKeyPath == "" {
		logger.Plain().Fatal("JWT_PUBLIC_KEY_PATH is required")
	}
	validator, err := auth.NewJWTValidatorFromFile(cfg.Auth.PublicKeyPath, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("jwt validator setup failed")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("ingest setup failed")
	}
	defer a.Close()

	// NSQ producer
	prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	prod.SetLogger(logging.NewNSQLogger(logger), nsq.LogLevelWarning)
	defer prod.Stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	gin.SetMode(gin.ReleaseMode)
	svc := ingest.NewServer(prod, cfg.NSQ.EventsTopic, a.Carrier, a.Provisioner, a.Outbox, logger)
	router := newRouter(svc, validator.GinMiddleware(), a.Checks, reg, logger)

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("ingest HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("ingest HTTP server failed")
		}
	}()

	<-ctx.Done()

	logger.Plain().Info("shutting down ingest service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("ingest service stopped")
}
