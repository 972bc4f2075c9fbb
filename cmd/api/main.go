package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/agency-leads/cmd/mainconfig"
	"github.com/wolfman30/agency-leads/internal/api/router"
	"github.com/wolfman30/agency-leads/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/http/handlers"
	"github.com/wolfman30/agency-leads/internal/leads"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/internal/queue"
	"github.com/wolfman30/agency-leads/internal/ratelimit"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agency-leads API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	warnInsecureDefaults(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// warnInsecureDefaults logs optional secrets that are missing.
func warnInsecureDefaults(cfg *appconfig.Config, logger *logging.Logger) {
	if cfg.APIKey == "" {
		logger.Warn("API_KEY not set; analytics endpoints are unauthenticated")
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; admin notification endpoints are disabled")
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	var redisClient *redis.Client
	if cfg.RateLimitBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
		if redisClient != nil {
			defer func() { _ = redisClient.Close() }()
		}
	}

	store, err := bootstrap.BuildLeadStore(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	broker, err := bootstrap.BuildBroker(cfg, redisClient, awsCfg, logger)
	if err != nil {
		return err
	}

	metricsHandler, pipelineMetrics := setupMetrics()
	limiter := bootstrap.BuildRateLimiter(cfg, redisClient, logger)
	if mem, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		mem.StartJanitor(ctx, cfg.RateLimitWindow)
	}

	leadsHandler := leads.NewHandler(store.Repository, bootstrap.BuildPublisher(cfg, broker, logger), logger,
		leads.WithSummaryReader(store.Summaries),
		leads.WithMetrics(pipelineMetrics),
		leads.WithDefaultLanguage(cfg.DefaultLanguage),
	)

	var adminNotifications *handlers.AdminNotificationsHandler
	if inspector, ok := broker.(queue.Inspector); ok {
		adminNotifications = handlers.NewAdminNotificationsHandler(inspector, logger)
	}

	// A memory broker only exists in this process, so its workers must too.
	workersDone := func() {}
	if cfg.QueueBackend == "memory" {
		wait, err := startInProcessWorkers(ctx, cfg, awsCfg, broker, pipelineMetrics, logger)
		if err != nil {
			return err
		}
		workersDone = wait
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger:             logger,
			LeadsHandler:       leadsHandler,
			AdminNotifications: adminNotifications,
			Limiter:            limiter,
			Metrics:            pipelineMetrics,
			MetricsHandler:     metricsHandler,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			APIKey:             cfg.APIKey,
			AdminAuthSecret:    cfg.AdminJWTSecret,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	workersDone()
	return nil
}

func startInProcessWorkers(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, broker queue.Broker, m *metrics.PipelineMetrics, logger *logging.Logger) (func(), error) {
	sender, err := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	templates, err := bootstrap.BuildTemplates(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	deadLetters, closeSink := bootstrap.BuildDeadLetterSink(cfg, logger)

	pool := bootstrap.BuildWorkerPool(cfg, bootstrap.WorkerDeps{
		Broker:      broker,
		Sender:      sender,
		Templates:   templates,
		DeadLetters: deadLetters,
		Metrics:     m,
	}, logger)
	pool.Start(ctx)
	logger.Info("in-process notification workers started", "workers", cfg.WorkerCount)
	return func() {
		pool.Wait()
		closeSink()
	}, nil
}

func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewPipelineMetrics(reg)
}
