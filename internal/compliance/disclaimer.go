package compliance

import (
	"fmt"
	"strings"
)

// DisclaimerLevel represents the verbosity of the disclaimer.
type DisclaimerLevel string

const (
	// DisclaimerShort is the shortest disclaimer.
	DisclaimerShort DisclaimerLevel = "short"
	// DisclaimerMedium is a moderate disclaimer.
	DisclaimerMedium DisclaimerLevel = "medium"
	// DisclaimerFull is the most comprehensive disclaimer.
	DisclaimerFull DisclaimerLevel = "full"
)

// Disclaimer templates
const (
	disclaimerShortText = "AI-generated. Verify before clinical use."

	disclaimerMediumText = "This summary was generated automatically from patient-submitted intake data. Verify it against the source records before clinical use."

	disclaimerFullText = "This summary was generated automatically from patient-submitted intake forms and uploaded documents. It may be incomplete or inaccurate and is not a diagnosis. A licensed clinician must review the source records before relying on it for care decisions."
)

// DisclaimerConfig configures the disclaimer service.
type DisclaimerConfig struct {
	// Level determines which disclaimer template to use.
	Level DisclaimerLevel
	// Enabled controls whether disclaimers are added.
	Enabled bool
	// CustomText overrides the default template.
	CustomText string
}

// DefaultDisclaimerConfig returns sensible defaults.
func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{
		Level:   DisclaimerMedium,
		Enabled: true,
	}
}

// ParseDisclaimerLevel maps a configuration string to a level, defaulting to medium.
func ParseDisclaimerLevel(raw string) DisclaimerLevel {
	switch DisclaimerLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case DisclaimerShort:
		return DisclaimerShort
	case DisclaimerFull:
		return DisclaimerFull
	default:
		return DisclaimerMedium
	}
}

// DisclaimerService appends the clinician-review notice to outbound text about summaries.
type DisclaimerService struct {
	config DisclaimerConfig
}

// NewDisclaimerService creates a new disclaimer service.
func NewDisclaimerService(config DisclaimerConfig) *DisclaimerService {
	return &DisclaimerService{config: config}
}

// GetDisclaimerText returns the appropriate disclaimer text.
func (s *DisclaimerService) GetDisclaimerText() string {
	if s.config.CustomText != "" {
		return s.config.CustomText
	}

	switch s.config.Level {
	case DisclaimerShort:
		return disclaimerShortText
	case DisclaimerFull:
		return disclaimerFullText
	default:
		return disclaimerMediumText
	}
}

// ActiveText returns the disclaimer to append, or "" when the service is nil or disabled.
func (s *DisclaimerService) ActiveText() string {
	if s == nil || !s.config.Enabled {
		return ""
	}
	return s.GetDisclaimerText()
}

// AddDisclaimer adds a disclaimer to the message if configured. A nil service leaves
// the message untouched.
func (s *DisclaimerService) AddDisclaimer(message string) string {
	disclaimer := s.ActiveText()
	if disclaimer == "" {
		return message
	}
	if strings.Contains(message, disclaimer) {
		return message
	}

	return fmt.Sprintf("%s\n\n%s", strings.TrimSpace(message), disclaimer)
}
