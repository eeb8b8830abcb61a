// Package summary runs the second pipeline stage: building the clinical prompt,
// calling the text model with bounded retries and persisting one validated summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinical-intake-pipeline/internal/aiservice"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

var tracer = otel.Tracer("intake.internal.summary")

// Outcome describes a finished Stage 2 run.
type Outcome struct {
	SummaryID      string                `json:"summary_id"`
	ConsultationID string                `json:"consultation_id"`
	Payload        intake.SummaryPayload `json:"summary"`
	Fallback       bool                  `json:"fallback"`
	FallbackReason string                `json:"fallback_reason,omitempty"`
	AlreadyExisted bool                  `json:"already_existed"`
	Attempts       int                   `json:"attempts"`
}

// Generator produces and persists one clinical summary per appointment. It owns the
// appointment's terminal status write: completed on success, failed otherwise.
type Generator struct {
	store     intake.Store
	completer aiservice.TextCompleter
	policy    RetryPolicy
	settings  aiservice.Settings
	metrics   *metrics.PipelineMetrics
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes a Generator.
type Option func(*Generator)

// WithRetryPolicy overrides the default 3-attempt policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Generator) {
		g.policy = p
	}
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithClock overrides the clock used for ages and timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator builds a Generator. Store and completer are required; a nil logger
// falls back to the default.
func NewGenerator(store intake.Store, completer aiservice.TextCompleter, logger *logging.Logger, opts ...Option) *Generator {
	if store == nil {
		panic("summary: store cannot be nil")
	}
	if completer == nil {
		panic("summary: text completer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	settings := aiservice.DefaultSettings()
	settings.JSON = true
	g := &Generator{
		store:     store,
		completer: completer,
		policy:    DefaultRetryPolicy(),
		settings:  settings,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate summarizes the appointment. The caller must already own the appointment
// (processing lock held, or a direct recovery call). The status write happens in a
// deferred block keyed on the id captured at entry, so every exit path records it.
func (g *Generator) Generate(ctx context.Context, appointmentID string) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "summary.generate")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", appointmentID))

	log := g.logger.With("appointment_id", appointmentID, "stage", "summary")
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("summary: panic: %v", r)
		}
		g.finish(ctx, appointmentID, out, err, log)
		g.metrics.ObserveStageDuration("summary", time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
		}
	}()

	appt, err := g.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("summary: load appointment: %w", err)
	}

	cc, err := Collect(ctx, g.store, appt, g.now())
	if err != nil {
		return Outcome{}, err
	}
	existing, err := g.store.FindSummaryID(ctx, cc.ConsultationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("summary: lookup existing: %w", err)
	}
	if existing != "" {
		log.Info("summary already exists for consultation", "consultation_id", cc.ConsultationID, "summary_id", existing)
		return Outcome{SummaryID: existing, ConsultationID: cc.ConsultationID, AlreadyExisted: true}, nil
	}
	if !cc.Sufficient() {
		return Outcome{}, &intake.InsufficientDataError{AppointmentID: appointmentID}
	}
	log.Info("summary context collected", "files", len(cc.Files), "extracted_files", cc.ExtractedFiles(), "has_voice", anyContent(cc.VoiceData))

	payload, attempts, reason, err := g.complete(ctx, cc, log)
	if err != nil {
		return Outcome{Attempts: attempts}, err
	}

	summary := &intake.ClinicalSummary{
		ID:               g.newID(),
		ConsultationID:   cc.ConsultationID,
		PatientID:        cc.PatientID,
		AppointmentID:    appointmentID,
		Payload:          payload,
		ProcessingStatus: intake.StatusCompleted,
		Fallback:         reason != "",
		CreatedAt:        g.now().UTC(),
	}
	inserted, err := g.store.InsertSummary(ctx, summary)
	if err != nil {
		return Outcome{Attempts: attempts}, fmt.Errorf("summary: persist: %w", err)
	}
	if !inserted {
		log.Info("summary stored concurrently for consultation", "consultation_id", cc.ConsultationID, "summary_id", summary.ID)
	}

	return Outcome{
		SummaryID:      summary.ID,
		ConsultationID: cc.ConsultationID,
		Payload:        payload,
		Fallback:       summary.Fallback,
		FallbackReason: reason,
		AlreadyExisted: !inserted,
		Attempts:       attempts,
	}, nil
}

// complete calls the model under the retry policy. Overload exhaustion and schema
// violations become a fallback payload with a non-empty reason; any other upstream
// failure is returned.
func (g *Generator) complete(ctx context.Context, cc ClinicalContext, log *logging.Logger) (intake.SummaryPayload, int, string, error) {
	prompt := BuildPrompt(cc)

	var completion aiservice.Completion
	attempts, err := g.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var callErr error
		completion, callErr = g.completer.CompleteText(ctx, prompt, g.settings)
		switch {
		case callErr == nil:
			g.metrics.ObserveUpstreamAttempt("ok")
		case intake.IsOverloaded(callErr):
			g.metrics.ObserveUpstreamAttempt("overloaded")
			log.Warn("summary model overloaded", "attempt", attempt, "error", callErr)
		default:
			g.metrics.ObserveUpstreamAttempt("error")
		}
		return callErr
	})
	if err != nil {
		if intake.IsOverloaded(err) {
			log.Warn("summary retries exhausted, using fallback", "attempts", attempts)
			return FallbackSummary(ReasonOverloaded, cc.ChiefComplaint), attempts, ReasonOverloaded, nil
		}
		return intake.SummaryPayload{}, attempts, "", fmt.Errorf("summary: completion: %w", err)
	}

	payload, err := Sanitize(completion.Text)
	if err != nil {
		var schemaErr *intake.ResponseSchemaError
		if errors.As(err, &schemaErr) {
			log.Warn("summary response rejected, using fallback", "reason", schemaErr.Reason)
			return FallbackSummary(ReasonInvalidOutput, cc.ChiefComplaint), attempts, ReasonInvalidOutput, nil
		}
		return intake.SummaryPayload{}, attempts, "", err
	}
	return ApplyStatedComplaint(payload, cc.ChiefComplaint), attempts, "", nil
}

func (g *Generator) finish(ctx context.Context, appointmentID string, out Outcome, err error, log *logging.Logger) {
	status, msg := intake.StatusCompleted, ""
	outcome := "ok"
	switch {
	case err != nil:
		status, msg, outcome = intake.StatusFailed, err.Error(), "failed"
	case out.Fallback:
		outcome = "fallback"
	}
	g.metrics.ObserveSummary(outcome)
	if target, ok := intake.ReleaseTarget(status); !ok {
		g.metrics.ObserveIllegalTransition(string(status))
		status = target
	}

	// The status must be written even if the caller's context was cancelled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if setErr := g.store.SetStatus(writeCtx, appointmentID, status, msg); setErr != nil {
		g.metrics.ObserveReleaseFailure()
		log.Error("failed to record summary status", "error", setErr, "status", status)
		return
	}
	if err != nil {
		log.Error("summary generation failed", "error", err)
		return
	}
	log.Info("summary generation completed", "summary_id", out.SummaryID, "fallback", out.Fallback, "attempts", out.Attempts)
}
