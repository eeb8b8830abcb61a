package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinical-intake-pipeline/cmd/mainconfig"
	"github.com/wolfman30/clinical-intake-pipeline/internal/api/router"
	"github.com/wolfman30/clinical-intake-pipeline/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/internal/http/handlers"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	intakeworker "github.com/wolfman30/clinical-intake-pipeline/internal/worker/intake"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// Synchronous webhooks hold the connection through both stages, including
// Stage 2 retries, so the write deadline is far above a plain API's.
const pipelineWriteTimeout = 5 * time.Minute

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinical intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	ai, err := bootstrap.BuildAIServices(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure generative ai", "error", err)
		os.Exit(1)
	}
	defer func() { _ = ai.Close() }()

	metricsHandler, pipelineMetrics := setupMetrics()
	p, err := bootstrap.BuildPipeline(ctx, bootstrap.PipelineDeps{
		Config:  cfg,
		Pool:    pool,
		AWS:     awsCfg,
		AI:      ai,
		Metrics: pipelineMetrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer func() { _ = p.Close() }()

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	var (
		queue       handlers.Enqueuer
		localWorker *intakeworker.Worker
	)
	if cfg.AsyncIngress {
		queue, localWorker = setupAsyncIngress(cfg, awsCfg, p.Dispatcher, logger)
		if localWorker != nil {
			localWorker.Start(workerCtx)
		}
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerConfig(cfg, p, queue, metricsHandler, redisClient, logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: pipelineWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if localWorker != nil {
		stopWorker()
		localWorker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupAsyncIngress returns the queue webhooks are handed to. With INTAKE_QUEUE_URL the
// queue is SQS and a separate intake worker consumes it; without one, an in-process
// queue and worker are used, which loses queued notifications on restart.
func setupAsyncIngress(cfg *appconfig.Config, awsCfg aws.Config, dispatcher intakeworker.Dispatcher, logger *logging.Logger) (handlers.Enqueuer, *intakeworker.Worker) {
	if q, err := bootstrap.BuildIntakeQueue(cfg, awsCfg); err == nil {
		logger.Info("async ingress enabled; webhooks are queued on SQS for the intake worker")
		return q, nil
	}
	logger.Warn("async ingress without INTAKE_QUEUE_URL; using an in-process queue")
	q := intakeworker.NewMemoryQueue(0)
	w := intakeworker.NewWorker(dispatcher, q, logger,
		intakeworker.WithWorkerCount(cfg.WorkerCount),
		intakeworker.WithReceiveWaitSeconds(1),
	)
	return q, w
}

// setupMetrics registers pipeline collectors on a private registry and returns
// the handler that exposes them.
func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPipelineMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func routerConfig(cfg *appconfig.Config, p *bootstrap.Pipeline, queue handlers.Enqueuer, metricsHandler http.Handler, redisClient *redis.Client, logger *logging.Logger) *router.Config {
	recovery := handlers.AdminRecoveryConfig{
		Dispatcher: p.Dispatcher,
		Logger:     logger,
	}
	if p.Audit != nil {
		recovery.Audit = p.Audit
	}
	if p.Runs != nil {
		recovery.Runs = p.Runs
	}

	webhooks := handlers.IntakeWebhookConfig{
		Queue:  queue,
		Secret: cfg.WebhookSecret,
		Logger: logger,
	}
	if queue == nil {
		webhooks.Dispatcher = p.Dispatcher
	}

	var db handlers.Pinger
	if p.Pool != nil {
		db = p.Pool
	}

	return &router.Config{
		Logger:            logger,
		Health:            handlers.NewHealthHandler(db, logger),
		IntakeWebhooks:    handlers.NewIntakeWebhookHandler(webhooks),
		AdminRecovery:     handlers.NewAdminRecoveryHandler(recovery),
		MetricsHandler:    metricsHandler,
		AdminAuthSecret:   cfg.AdminJWTSecret,
		AdminCORSOrigins:  cfg.AdminOrigins(),
		Redis:             redisClient,
		RetriggerCooldown: cfg.RetriggerCooldown,
	}
}
