package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/internal/events"
	"github.com/wolfman30/clinical-intake-pipeline/internal/extraction"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
	"github.com/wolfman30/clinical-intake-pipeline/internal/runlog"
	"github.com/wolfman30/clinical-intake-pipeline/internal/storage"
	"github.com/wolfman30/clinical-intake-pipeline/internal/summary"
	intakeworker "github.com/wolfman30/clinical-intake-pipeline/internal/worker/intake"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// PipelineDeps are the runtime resources a pipeline is assembled from.
type PipelineDeps struct {
	Config  *appconfig.Config
	Pool    *pgxpool.Pool
	AWS     aws.Config
	AI      *AIServices
	Metrics *metrics.PipelineMetrics
	Logger  *logging.Logger
}

// Pipeline is the fully wired two-stage pipeline shared by the API, worker, and lambda.
type Pipeline struct {
	Pool        *pgxpool.Pool
	Store       *intake.PostgresStore
	Coordinator *pipeline.Coordinator
	Dispatcher  *pipeline.Dispatcher
	Audit       *compliance.AuditService
	Runs        *runlog.Store
	SQLDB       *sql.DB
}

// BuildPipeline assembles stores, both stages, the coordinator, and the dispatcher.
func BuildPipeline(ctx context.Context, deps PipelineDeps) (*Pipeline, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("bootstrap: postgres pool is required")
	}
	if deps.AI == nil {
		return nil, fmt.Errorf("bootstrap: ai services are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	store := intake.NewPostgresStore(deps.Pool)

	s3Client := s3.NewFromConfig(deps.AWS, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
	blobs := storage.NewS3BlobStore(s3Client, cfg.FilesBucket, logger,
		storage.WithMaxBytes(cfg.MaxFileBytes),
		storage.WithSignedURLTTL(cfg.SignedURLTTL),
	)
	processor := extraction.NewProcessor(store, blobs, deps.AI.Documents, deps.AI.Images, logger,
		extraction.WithMaxBytes(cfg.MaxFileBytes),
		extraction.WithMetrics(deps.Metrics),
	)
	generator := summary.NewGenerator(store, deps.AI.Completer, logger,
		summary.WithRetryPolicy(RetryPolicy(cfg)),
		summary.WithMetrics(deps.Metrics),
	)
	detector := pipeline.NewCompletionDetector(store, cfg.SettleAttempts, cfg.SettleInterval)

	sqlDB := stdlib.OpenDBFromPool(deps.Pool)
	audit := compliance.NewAuditService(sqlDB)
	notifier := BuildReviewNotifier(cfg, BuildEmailSender(cfg, deps.AWS, logger), logger)

	coord := pipeline.NewCoordinator(store, processor, generator, detector, logger,
		pipeline.WithAuditor(audit),
		pipeline.WithReviewNotifier(notifier),
		pipeline.WithMetrics(deps.Metrics),
	)

	dispatchOpts := []pipeline.DispatcherOption{
		pipeline.WithDeduper(events.NewProcessedStore(deps.Pool)),
		pipeline.WithDispatchMetrics(deps.Metrics),
	}
	var runs *runlog.Store
	if table := strings.TrimSpace(cfg.RunsTable); table != "" {
		runs = runlog.NewStore(dynamodb.NewFromConfig(deps.AWS), table, logger)
		dispatchOpts = append(dispatchOpts, pipeline.WithRunRecorder(runs))
	} else {
		logger.Warn("RUNS_TABLE not set; run records disabled")
	}

	return &Pipeline{
		Pool:        deps.Pool,
		Store:       store,
		Coordinator: coord,
		Dispatcher:  pipeline.NewDispatcher(coord, logger, dispatchOpts...),
		Audit:       audit,
		Runs:        runs,
		SQLDB:       sqlDB,
	}, nil
}

// Close releases the database/sql handle layered over the pool.
func (p *Pipeline) Close() error {
	if p == nil || p.SQLDB == nil {
		return nil
	}
	return p.SQLDB.Close()
}

// RetryPolicy derives the Stage 2 retry policy from config, keeping defaults for unset values.
func RetryPolicy(cfg *appconfig.Config) summary.RetryPolicy {
	policy := summary.DefaultRetryPolicy()
	if cfg == nil {
		return policy
	}
	if cfg.SummaryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.SummaryMaxAttempts
	}
	if cfg.SummaryBaseDelay > 0 {
		policy.BaseDelay = cfg.SummaryBaseDelay
	}
	return policy
}

// BuildIntakeQueue returns the SQS-backed change-notification queue.
func BuildIntakeQueue(cfg *appconfig.Config, awsCfg aws.Config) (*intakeworker.SQSQueue, error) {
	if cfg == nil || strings.TrimSpace(cfg.IntakeQueueURL) == "" {
		return nil, errors.New("bootstrap: INTAKE_QUEUE_URL is required")
	}
	return intakeworker.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.IntakeQueueURL), nil
}
