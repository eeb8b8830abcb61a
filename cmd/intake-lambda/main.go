package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinical-intake-pipeline/cmd/mainconfig"
	"github.com/wolfman30/clinical-intake-pipeline/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const routeAttribute = "route"

type dispatcher interface {
	Dispatch(ctx context.Context, route pipeline.Route, body []byte) pipeline.Result
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
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

	p, err := bootstrap.BuildPipeline(ctx, bootstrap.PipelineDeps{
		Config:  cfg,
		Pool:    pool,
		AWS:     awsCfg,
		AI:      ai,
		Metrics: metrics.NewPipelineMetrics(prometheus.NewRegistry()),
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer func() { _ = p.Close() }()

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, p.Dispatcher, logger, evt), nil
	})
}

// handle dispatches each record and reports the ones that must be redelivered.
// Lock conflicts and no-ops are acknowledged; 5xx results become batch item failures.
func handle(ctx context.Context, d dispatcher, logger *logging.Logger, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		route := pipeline.RouteFiles
		if attr, ok := record.MessageAttributes[routeAttribute]; ok && attr.StringValue != nil {
			route = pipeline.ParseRoute(*attr.StringValue)
		}

		res := d.Dispatch(ctx, route, []byte(record.Body))
		if res.Acknowledge() {
			continue
		}
		logger.Warn("intake record left for redelivery",
			"message_id", record.MessageId,
			"route", route,
			"status", res.StatusCode,
			"error", res.Error,
		)
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return resp
}
