package aiservice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

var geminiTracer = otel.Tracer("intake.internal.aiservice.gemini")

const (
	DefaultGeminiModel  = "gemini-2.5-flash"
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 60 * time.Second
	cleanupTimeout      = 10 * time.Second
)

// fileService is the subset of *genai.Client used for document uploads.
type fileService interface {
	UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error)
	GetFile(ctx context.Context, name string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
}

// contentGenerator runs one GenerateContent call against a configured model.
type contentGenerator interface {
	Generate(ctx context.Context, system string, settings Settings, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements DocumentExtractor, ImageAnalyzer and TextCompleter.
type GeminiClient struct {
	client       *genai.Client
	files        fileService
	generator    contentGenerator
	settings     Settings
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *logging.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithPolling overrides the readiness poll interval and overall ceiling.
func WithPolling(interval, timeout time.Duration) GeminiOption {
	return func(c *GeminiClient) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

// WithSettings overrides the generation settings.
func WithSettings(settings Settings) GeminiOption {
	return func(c *GeminiClient) {
		c.settings = settings
	}
}

// NewGeminiClient creates a Gemini client authenticated with an API key.
func NewGeminiClient(ctx context.Context, apiKey, modelID string, logger *logging.Logger, opts ...GeminiOption) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("aiservice: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("aiservice: failed to create gemini client: %w", err)
	}

	c := newGeminiClient(sdkFiles{client: client}, sdkGenerator{client: client, modelID: modelID}, logger, opts...)
	c.client = client
	return c, nil
}

func newGeminiClient(files fileService, generator contentGenerator, logger *logging.Logger, opts ...GeminiOption) *GeminiClient {
	if logger == nil {
		logger = logging.Default()
	}
	c := &GeminiClient{
		files:        files,
		generator:    generator,
		settings:     DefaultSettings(),
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
		logger:       logger,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExtractDocument uploads the document, waits for it to become active, asks for the raw
// text and always attempts to delete the uploaded artifact afterwards.
func (c *GeminiClient) ExtractDocument(ctx context.Context, doc Document) (text string, err error) {
	ctx, span := geminiTracer.Start(ctx, "aiservice.gemini.extract_document")
	defer span.End()
	span.SetAttributes(attribute.String("file.name", doc.Name), attribute.Int("file.bytes", len(doc.Data)))

	uploaded, err := c.files.UploadFile(ctx, "", bytes.NewReader(doc.Data), &genai.UploadFileOptions{
		DisplayName: doc.Name,
		MIMEType:    doc.MIMEType,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("aiservice: upload %s: %w", doc.Name, Classify(err))
	}
	defer c.cleanup(uploaded.Name)

	active, err := c.waitActive(ctx, uploaded)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	mimeType := active.MIMEType
	if mimeType == "" {
		mimeType = doc.MIMEType
	}
	resp, err := c.generator.Generate(ctx, "", c.settings,
		genai.FileData{MIMEType: mimeType, URI: active.URI},
		genai.Text(DocumentExtractionPrompt),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("aiservice: extract %s: %w", doc.Name, Classify(err))
	}
	completion, err := completionFromResponse(resp)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// AnalyzeImage sends the image inline with the objective-description prompt.
func (c *GeminiClient) AnalyzeImage(ctx context.Context, img Document) (string, error) {
	ctx, span := geminiTracer.Start(ctx, "aiservice.gemini.analyze_image")
	defer span.End()
	span.SetAttributes(attribute.String("file.name", img.Name), attribute.Int("file.bytes", len(img.Data)))

	resp, err := c.generator.Generate(ctx, "", c.settings,
		genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		genai.Text(ImageAnalysisPrompt),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("aiservice: analyze %s: %w", img.Name, Classify(err))
	}
	completion, err := completionFromResponse(resp)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// CompleteText runs a single text completion.
func (c *GeminiClient) CompleteText(ctx context.Context, prompt Prompt, settings Settings) (Completion, error) {
	ctx, span := geminiTracer.Start(ctx, "aiservice.gemini.complete_text")
	defer span.End()

	if strings.TrimSpace(prompt.User) == "" {
		return Completion{}, errors.New("aiservice: gemini requires a user prompt")
	}
	resp, err := c.generator.Generate(ctx, prompt.System, settings, genai.Text(prompt.User))
	if err != nil {
		span.RecordError(err)
		return Completion{}, fmt.Errorf("aiservice: gemini completion failed: %w", Classify(err))
	}
	return completionFromResponse(resp)
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *GeminiClient) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	deadline := time.Now().Add(c.pollTimeout)
	current := file
	for {
		switch current.State {
		case genai.FileStateActive:
			return current, nil
		case genai.FileStateFailed:
			return nil, fmt.Errorf("aiservice: file %s failed processing upstream", file.Name)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("aiservice: file %s not active after %s", file.Name, c.pollTimeout)
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
		next, err := c.files.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("aiservice: poll %s: %w", file.Name, Classify(err))
		}
		current = next
	}
}

func (c *GeminiClient) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := c.files.DeleteFile(ctx, name); err != nil {
		c.logger.Warn("failed to delete uploaded file", "error", err, "upload_name", name)
	}
}

func completionFromResponse(resp *genai.GenerateContentResponse) (Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Completion{}, &intake.UpstreamProtocolError{Err: errors.New("gemini returned no candidates")}
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Completion{}, &intake.UpstreamProtocolError{Err: fmt.Errorf("gemini returned empty content (finish reason %s)", candidate.FinishReason)}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	result := Completion{
		Text:       strings.TrimSpace(text.String()),
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sdkFiles adapts *genai.Client to fileService.
type sdkFiles struct {
	client *genai.Client
}

func (s sdkFiles) UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error) {
	return s.client.UploadFile(ctx, name, r, opts)
}

func (s sdkFiles) GetFile(ctx context.Context, name string) (*genai.File, error) {
	return s.client.GetFile(ctx, name)
}

func (s sdkFiles) DeleteFile(ctx context.Context, name string) error {
	return s.client.DeleteFile(ctx, name)
}

// sdkGenerator builds a configured model per call and runs GenerateContent.
type sdkGenerator struct {
	client  *genai.Client
	modelID string
}

func (g sdkGenerator) Generate(ctx context.Context, system string, settings Settings, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(settings.Temperature)
	if settings.MaxTokens > 0 {
		model.SetMaxOutputTokens(settings.MaxTokens)
	}
	if settings.JSON {
		model.ResponseMIMEType = "application/json"
	}
	model.SafetySettings = SafetySettings()
	if strings.TrimSpace(system) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	return model.GenerateContent(ctx, parts...)
}

// SafetySettings blocks medium-and-above harassment, hate, sexual and dangerous content.
func SafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockMediumAndAbove,
		})
	}
	return settings
}
