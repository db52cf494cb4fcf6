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

	httpadapter "github.com/kirillkom/knowledge-qa/internal/adapters/http"
	mcpadapter "github.com/kirillkom/knowledge-qa/internal/adapters/mcp"
	"github.com/kirillkom/knowledge-qa/internal/bootstrap"
	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/observability/logging"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
	"github.com/kirillkom/knowledge-qa/internal/observability/tracing"
)

const serviceName = "api"

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

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.NewAPI(ctx, cfg, logger, httpMetrics.Registry())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	opts := httpadapter.Options{
		Service:         serviceName,
		Logger:          logger,
		Identity:        app.Identity,
		RequireIdentity: cfg.AuthRequireIdentity,
		RateLimiter:     app.Limiter,
		Metrics:         httpMetrics,
	}
	if cfg.MCPEnabled {
		opts.MCP = mcpadapter.NewHandler(app.Answerer, httpadapter.RequestIdentity, logger)
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           httpadapter.NewRouter(app.Answerer, opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.WorkerTimeout() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening",
			"port", cfg.APIPort,
			"search_backend", cfg.SearchBackend,
			"llm_provider", cfg.LLMProvider,
			"dispatch", cfg.QADispatch,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err.Error())
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing_shutdown_failed", "error", err.Error())
	}
}
