package aiservice

import "context"

const (
	DefaultTemperature float32 = 0.2
	DefaultMaxTokens   int32   = 2048
)

// Document is a stored file handed to the extraction service.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Prompt is a system block plus the user turn.
type Prompt struct {
	System string
	User   string
}

// Settings bound every generation request.
type Settings struct {
	Temperature float32
	MaxTokens   int32
	JSON        bool
}

// DefaultSettings returns the low-temperature bounded configuration shared by all calls.
func DefaultSettings() Settings {
	return Settings{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Completion is the text returned by a generation call.
type Completion struct {
	Text       string
	StopReason string
	Usage      TokenUsage
}

// DocumentExtractor turns a document into raw text.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, doc Document) (string, error)
}

// ImageAnalyzer describes an image objectively.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, img Document) (string, error)
}

// TextCompleter runs a plain text completion. Errors are classified as
// *intake.UpstreamOverloadedError or *intake.UpstreamProtocolError.
type TextCompleter interface {
	CompleteText(ctx context.Context, prompt Prompt, settings Settings) (Completion, error)
}
