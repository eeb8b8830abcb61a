package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinical-intake-pipeline/cmd/mainconfig"
	"github.com/wolfman30/clinical-intake-pipeline/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	intakeworker "github.com/wolfman30/clinical-intake-pipeline/internal/worker/intake"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	ai, err := bootstrap.BuildAIServices(ctx, cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to configure generative ai", "error", err)
		os.Exit(1)
	}
	defer func() { _ = ai.Close() }()

	p, err := bootstrap.BuildPipeline(ctx, bootstrap.PipelineDeps{
		Config:  cfg,
		Pool:    pool,
		AWS:     awsConfig,
		AI:      ai,
		Metrics: metrics.NewPipelineMetrics(prometheus.DefaultRegisterer),
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer func() { _ = p.Close() }()

	queue, err := bootstrap.BuildIntakeQueue(cfg, awsConfig)
	if err != nil {
		logger.Error("intake worker needs a queue", "error", err)
		os.Exit(1)
	}

	worker := intakeworker.NewWorker(
		p.Dispatcher,
		queue,
		logger,
		intakeworker.WithWorkerCount(cfg.WorkerCount),
		intakeworker.WithReceiveWaitSeconds(cfg.WorkerWaitSeconds),
		intakeworker.WithReceiveBatchSize(cfg.WorkerBatchSize),
	)

	worker.Start(ctx)
	logger.Info("intake worker started", "workers", cfg.WorkerCount, "queue", cfg.IntakeQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down intake worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("intake worker stopped")
	case <-doneCtx.Done():
		logger.Error("intake worker shutdown timed out", "error", doneCtx.Err())
	}
}
