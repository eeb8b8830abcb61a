package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	appconfig "github.com/wolfman30/clinical-intake-pipeline/internal/config"
	"github.com/wolfman30/clinical-intake-pipeline/internal/notify"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// BuildEmailSender picks SendGrid, then SES, then a log-only sender.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewLogSender(logger)
	}
	if strings.TrimSpace(cfg.SendGridAPIKey) != "" {
		logger.Info("review alerts via sendgrid")
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
		}, logger)
	}
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		logger.Info("review alerts via ses")
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{FromEmail: cfg.SESFromEmail}, logger)
	}
	logger.Warn("no email provider configured; review alerts will only be logged")
	return notify.NewLogSender(logger)
}

// BuildReviewNotifier wires operator alerts with the clinician-review disclaimer.
func BuildReviewNotifier(cfg *appconfig.Config, email notify.EmailSender, logger *logging.Logger) *notify.ReviewNotifier {
	disclaimerCfg := compliance.DefaultDisclaimerConfig()
	var recipients []string
	if cfg != nil {
		disclaimerCfg.Level = compliance.ParseDisclaimerLevel(cfg.DisclaimerLevel)
		disclaimerCfg.Enabled = cfg.DisclaimerEnabled
		recipients = cfg.ReviewRecipients()
	}
	if len(recipients) == 0 && logger != nil {
		logger.Warn("REVIEW_ALERT_EMAIL not set; fallback summaries will not be escalated")
	}
	return notify.NewReviewNotifier(email, recipients, compliance.NewDisclaimerService(disclaimerCfg), logger)
}
