package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// Category tags a review email so reviewers can filter failures from placeholders.
type Category string

const (
	CategorySummaryFailed   Category = "intake_summary_failed"
	CategorySummaryFallback Category = "intake_summary_fallback"
)

// AppointmentHeader carries the appointment id on every review email.
const AppointmentHeader = "X-Intake-Appointment"

const defaultFromName = "Clinical Intake"

// EmailSender delivers review emails.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one review email to one recipient. Text is always set; HTML is
// the same content rendered for mail clients that prefer it.
type EmailMessage struct {
	To            string
	Subject       string
	Text          string
	HTML          string
	Category      Category
	AppointmentID string
}

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers review emails through the SendGrid v3 API.
type SendGridSender struct {
	client    sendGridClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	response, err := s.client.SendWithContext(ctx, s.build(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "appointment_id", msg.AppointmentID, "category", msg.Category)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "appointment_id", msg.AppointmentID)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("review email sent via sendgrid", "appointment_id", msg.AppointmentID, "category", msg.Category, "status", response.StatusCode)
	return nil
}

func (s *SendGridSender) build(msg EmailMessage) *mail.SGMailV3 {
	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = "<pre>" + html.EscapeString(msg.Text) + "</pre>"
	}
	message := mail.NewSingleEmail(mail.NewEmail(s.fromName, s.fromEmail), msg.Subject, mail.NewEmail("", msg.To), msg.Text, htmlBody)
	if msg.Category != "" {
		message.AddCategories(string(msg.Category))
	}
	if msg.AppointmentID != "" {
		message.SetHeader(AppointmentHeader, msg.AppointmentID)
	}
	return message
}

// LogSender writes review emails to the log when no provider is configured.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Warn("review email not delivered: no email provider",
		"appointment_id", msg.AppointmentID,
		"category", msg.Category,
		"subject", msg.Subject,
	)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*LogSender)(nil)
)
