package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/knowledge-qa/internal/bootstrap"
	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/knowledge-qa/internal/observability/logging"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
	"github.com/kirillkom/knowledge-qa/internal/observability/tracing"
)

const serviceName = "worker"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger(serviceName, "info").Error("config_invalid", "error", err.Error())
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: "knowledge-qa-" + serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Error("tracing_setup_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.NewWorker(ctx, cfg, logger, workerMetrics.Registry())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err.Error())
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.Serve(ctx, app.Answerer, cfg.WorkerTimeout(), nats.WorkerHooks{
		Start: workerMetrics.StartQuestion,
		Finish: func(duration time.Duration, err error) {
			workerMetrics.FinishQuestion(serviceName, duration, err)
		},
		QueueLag: func(lag time.Duration) {
			workerMetrics.ObserveQueueLag(serviceName, lag)
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_serve_failed", "error", err.Error())
	}
}
