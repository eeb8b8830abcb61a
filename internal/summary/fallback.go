package summary

import (
	"fmt"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

const (
	fallbackChiefComplaint = "Unable to generate automated summary - manual review required"
	fallbackHPI            = "An automated clinical summary could not be produced (%s). " +
		"Review the patient's intake form, voice intake and uploaded documents directly before the visit."
)

// Fallback reasons recorded on the summary text.
const (
	ReasonOverloaded    = "AI service unavailable"
	ReasonInvalidOutput = "AI response failed validation"
)

// FallbackSummary is the clinically inert placeholder persisted when no valid model
// output is available. The patient-stated chief complaint is kept when known.
func FallbackSummary(reason, statedComplaint string) intake.SummaryPayload {
	complaint := fallbackChiefComplaint
	if statedComplaint != "" {
		complaint = truncateRunes(statedComplaint, maxChiefComplaintRunes)
	}
	return intake.SummaryPayload{
		ChiefComplaint:          complaint,
		HistoryOfPresentIllness: truncateRunes(fmt.Sprintf(fallbackHPI, reason), maxHPIRunes),
		DifferentialDiagnoses:   []string{},
		RecommendedTests:        []string{},
		UrgencyLevel:            intake.UrgencyRoutine,
	}
}
