package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/clinical-intake-pipeline/internal/aiservice"
	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const (
	providerGemini  = "gemini"
	providerBedrock = "bedrock"
)

// AIServices groups the generative-AI capabilities the two stages need.
type AIServices struct {
	Documents aiservice.DocumentExtractor
	Images    aiservice.ImageAnalyzer
	Completer aiservice.TextCompleter
	Close     func() error
}

// BuildAIServices wires Gemini for extraction and the configured summary provider.
func BuildAIServices(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*AIServices, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.SummaryProvider))
	if provider == "" {
		provider = providerGemini
	}
	if provider != providerGemini && provider != providerBedrock {
		return nil, fmt.Errorf("bootstrap: unsupported SUMMARY_PROVIDER %q", cfg.SummaryProvider)
	}
	if provider == providerBedrock && strings.TrimSpace(cfg.BedrockModelID) == "" {
		return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required when SUMMARY_PROVIDER=bedrock")
	}

	gemini, err := aiservice.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID, logger,
		aiservice.WithPolling(cfg.UploadPollInterval, cfg.UploadPollTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: gemini: %w", err)
	}

	svc := &AIServices{
		Documents: gemini,
		Images:    gemini,
		Completer: gemini,
		Close:     gemini.Close,
	}
	if provider == providerBedrock {
		svc.Completer = aiservice.NewBedrockCompleter(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
	}
	logger.Info("generative ai configured", "extraction_model", cfg.GeminiModelID, "summary_provider", provider)
	return svc, nil
}
