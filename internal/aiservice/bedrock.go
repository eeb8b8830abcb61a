package aiservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

var bedrockTracer = otel.Tracer("intake.internal.aiservice.bedrock")

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockCompleter implements TextCompleter with the Bedrock Converse API.
type BedrockCompleter struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockCompleter(api bedrockConverseAPI, modelID string) *BedrockCompleter {
	if api == nil {
		panic("aiservice: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		panic("aiservice: bedrock model id cannot be empty")
	}
	return &BedrockCompleter{api: api, modelID: modelID}
}

func (c *BedrockCompleter) CompleteText(ctx context.Context, prompt Prompt, settings Settings) (Completion, error) {
	ctx, span := bedrockTracer.Start(ctx, "aiservice.bedrock.complete_text")
	defer span.End()

	user := strings.TrimSpace(prompt.User)
	if user == "" {
		return Completion{}, errors.New("aiservice: bedrock requires a user prompt")
	}

	var system []brtypes.SystemContentBlock
	if strings.TrimSpace(prompt.System) != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: prompt.System})
	}

	inference := &brtypes.InferenceConfiguration{
		Temperature: aws.Float32(settings.Temperature),
	}
	if settings.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(settings.MaxTokens)
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System:  system,
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: user}},
		}},
		InferenceConfig: inference,
	})
	if err != nil {
		span.RecordError(err)
		return Completion{}, fmt.Errorf("aiservice: bedrock completion failed: %w", Classify(err))
	}

	text, err := bedrockOutputText(out)
	if err != nil {
		return Completion{}, &intake.UpstreamProtocolError{Err: err}
	}

	resp := Completion{Text: strings.TrimSpace(text), StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock response did not include a message output")
	}
	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	if strings.TrimSpace(builder.String()) == "" {
		return "", errors.New("bedrock response contained no text content blocks")
	}
	return builder.String(), nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
