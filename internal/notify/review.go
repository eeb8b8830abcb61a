package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// ReviewAlert describes an appointment whose summary needs a clinician's attention.
// It carries identifiers only; patient details stay in the database.
type ReviewAlert struct {
	AppointmentID  string
	ConsultationID string
	SummaryID      string
	// FallbackReason is set when the placeholder summary was stored.
	FallbackReason string
	// Error is set when summary generation failed outright.
	Error string
}

// Failed reports whether the alert is for a run that stored no summary.
func (a ReviewAlert) Failed() bool {
	return a.Error != ""
}

// Category classifies the alert for the email provider.
func (a ReviewAlert) Category() Category {
	if a.Failed() {
		return CategorySummaryFailed
	}
	return CategorySummaryFallback
}

// ReviewNotifier emails the configured reviewers when Stage 2 stores a fallback
// summary or fails.
type ReviewNotifier struct {
	email      EmailSender
	recipients []string
	disclaimer *compliance.DisclaimerService
	logger     *logging.Logger
}

// NewReviewNotifier creates a review notifier. Blank recipients are ignored.
func NewReviewNotifier(email EmailSender, recipients []string, disclaimer *compliance.DisclaimerService, logger *logging.Logger) *ReviewNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	var cleaned []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &ReviewNotifier{
		email:      email,
		recipients: cleaned,
		disclaimer: disclaimer,
		logger:     logger,
	}
}

// NotifyReviewNeeded sends one email per recipient. Individual send failures are
// collected and reported together.
func (n *ReviewNotifier) NotifyReviewNeeded(ctx context.Context, alert ReviewAlert) error {
	if n == nil || n.email == nil || len(n.recipients) == 0 {
		return nil
	}

	msg, err := n.compose(alert)
	if err != nil {
		return err
	}

	var errs []error
	for _, recipient := range n.recipients {
		msg.To = recipient
		if err := n.email.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		n.logger.Warn("notify: review alert partially failed", "appointment_id", alert.AppointmentID, "failures", len(errs))
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}

// reviewView is what both alert templates render. Free text is redacted and bounded
// before it reaches either body.
type reviewView struct {
	Failed         bool
	AppointmentID  string
	ConsultationID string
	SummaryID      string
	Detail         string
	Disclaimer     string
}

const maxDetailLen = 500

var reviewText = texttemplate.Must(texttemplate.New("review.txt").Parse(
	`{{if .Failed}}The clinical summary for this appointment could not be generated.

Appointment: {{.AppointmentID}}
Error: {{.Detail}}

Re-run generation from the admin console once the cause is resolved.{{else}}A placeholder summary was stored for this appointment.

Appointment: {{.AppointmentID}}
Consultation: {{.ConsultationID}}
Summary: {{.SummaryID}}
Reason: {{.Detail}}

Review the intake form and uploaded documents directly.{{end}}`))

var reviewHTML = htmltemplate.Must(htmltemplate.New("review.html").Parse(
	`<p>{{if .Failed}}The clinical summary for this appointment could not be generated.{{else}}A placeholder summary was stored for this appointment.{{end}}</p>
<table>
<tr><th align="left">Appointment</th><td>{{.AppointmentID}}</td></tr>
{{- if not .Failed}}
<tr><th align="left">Consultation</th><td>{{.ConsultationID}}</td></tr>
<tr><th align="left">Summary</th><td>{{.SummaryID}}</td></tr>
{{- end}}
<tr><th align="left">{{if .Failed}}Error{{else}}Reason{{end}}</th><td>{{.Detail}}</td></tr>
</table>
<p>{{if .Failed}}Re-run generation from the admin console once the cause is resolved.{{else}}Review the intake form and uploaded documents directly.{{end}}</p>
{{- if .Disclaimer}}
<p><em>{{.Disclaimer}}</em></p>
{{- end}}`))

func (n *ReviewNotifier) compose(alert ReviewAlert) (EmailMessage, error) {
	view := reviewView{
		Failed:         alert.Failed(),
		AppointmentID:  alert.AppointmentID,
		ConsultationID: alert.ConsultationID,
		SummaryID:      alert.SummaryID,
		Detail:         alert.FallbackReason,
		Disclaimer:     n.disclaimer.ActiveText(),
	}
	subject := fmt.Sprintf("Intake summary needs manual review - appointment %s", alert.AppointmentID)
	if view.Failed {
		view.Detail = alert.Error
		subject = fmt.Sprintf("Intake summary failed - appointment %s", alert.AppointmentID)
	}
	view.Detail = truncate(compliance.RedactContact(view.Detail), maxDetailLen)

	var text, html bytes.Buffer
	if err := reviewText.Execute(&text, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render review text: %w", err)
	}
	if err := reviewHTML.Execute(&html, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render review html: %w", err)
	}

	return EmailMessage{
		Subject:       subject,
		Text:          n.disclaimer.AddDisclaimer(text.String()),
		HTML:          html.String(),
		Category:      alert.Category(),
		AppointmentID: alert.AppointmentID,
	}, nil
}

// truncate cuts s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
