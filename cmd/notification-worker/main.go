package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/agency-leads/cmd/mainconfig"
	"github.com/wolfman30/agency-leads/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting notification worker",
		"env", cfg.Env,
		"queue_backend", cfg.QueueBackend,
		"workers", cfg.WorkerCount,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notification worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notification worker stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg.QueueBackend == "memory" {
		return errors.New("QUEUE_BACKEND=memory runs workers inside the API; use redis or sqs for a standalone worker")
	}
	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	var redisClient *redis.Client
	if cfg.QueueBackend == "redis" {
		redisClient = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		}
	}
	broker, err := bootstrap.BuildBroker(cfg, redisClient, awsCfg, logger)
	if err != nil {
		return err
	}
	sender, err := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	templates, err := bootstrap.BuildTemplates(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	deadLetters, closeSink := bootstrap.BuildDeadLetterSink(cfg, logger)
	defer closeSink()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	pipelineMetrics := metrics.NewPipelineMetrics(reg)

	pool := bootstrap.BuildWorkerPool(cfg, bootstrap.WorkerDeps{
		Broker:      broker,
		Sender:      sender,
		Templates:   templates,
		DeadLetters: deadLetters,
		Metrics:     pipelineMetrics,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           opsRouter(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "error", err)
		}
	}()

	pool.Start(ctx)
	<-ctx.Done()
	logger.Info("draining notification workers...")
	pool.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// opsRouter serves liveness and metrics for the worker process.
func opsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
