package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/tml_hook/internal/app"
	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/delivery"
	"github.com/austindbirch/tml_hook/internal/health"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/metrics"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

const serviceName = "tml-worker"

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize structured logging
	logger := logging.New(serviceName)
	logging.SetDefault(logger)
	defer logger.Sync()

	// Initialize OpenTelemetry tracing
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

	// DLQ producer
	var opts []app.Option
	if cfg.NSQ.PublishDLQ {
		producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		producer.SetLogger(logging.NewNSQLogger(logger), nsq.LogLevelWarning)
		defer producer.Stop()
		opts = append(opts, app.WithDeadLetterSink(delivery.NewDLQSink(producer, cfg.NSQ.DLQTopic, logger)))
	}

	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Plain().WithError(err).Fatal("worker setup failed")
	}
	defer a.Close()

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP health/metrics
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.HTTPHandler(a.Checks...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.WorkerHTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	// NSQ consumer
	conf := nsq.NewConfig()
	conf.MaxInFlight = 50
	consumer, err := nsq.NewConsumer(cfg.NSQ.EventsTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.SetLogger(logging.NewNSQLogger(logger), nsq.LogLevelWarning)
	consumer.AddHandler(a.Intake)

	// Connecting directly to NSQD forces channel creation, instead of the channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	var runner sweepRunner = a
	if a.Locker == nil {
		logger.Plain().Warn("no Redis; sweeping without the cluster lock")
		runner = unlocked{a}
	}
	go runSweeps(ctx, runner, cfg.Outbox.SweepInterval, cfg.Outbox.SweepLimit, logger)
	go newBacklogMonitor(cfg, logger).run(ctx, 15*time.Second)

	logger.Plain().WithFields(map[string]any{
		"topic":          cfg.NSQ.EventsTopic,
		"channel":        cfg.NSQ.WorkerChannel,
		"sweep_interval": cfg.Outbox.SweepInterval.String(),
		"sweep_limit":    cfg.Outbox.SweepLimit,
	}).Info("worker service started")

	// Graceful stop
	<-ctx.Done()

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("worker service stopped")
}
