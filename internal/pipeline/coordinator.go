// Package pipeline coordinates the two processing stages of an appointment. The
// appointment's processing status is the only shared state: a stage runs only after
// claiming the appointment through a conditional status update, and always releases it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	"github.com/wolfman30/clinical-intake-pipeline/internal/extraction"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/notify"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/internal/summary"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

var tracer = otel.Tracer("intake.internal.pipeline")

const (
	StageDocuments = "documents"
	StageSummary   = "summary"

	TriggerManualReprocess  = "manual_reprocess"
	TriggerManualRegenerate = "manual_regenerate"
)

// maxDocumentPasses bounds how often one invocation re-lists files that were linked
// while it was extracting.
const maxDocumentPasses = 2

// Request identifies the appointment an invocation works on and what caused it.
type Request struct {
	AppointmentID string
	RequestID     string
	Trigger       string
}

// BatchProcessor runs Stage 1 over an appointment's unprocessed files.
type BatchProcessor interface {
	ProcessAppointment(ctx context.Context, appointmentID string, skip ...string) (extraction.BatchResult, error)
}

// SummaryGenerator runs Stage 2 and writes the appointment's terminal status.
type SummaryGenerator interface {
	Generate(ctx context.Context, appointmentID string) (summary.Outcome, error)
}

// Auditor records pipeline decisions in the compliance trail.
type Auditor interface {
	LogLockConflict(ctx context.Context, appointmentID, requestID, stage string) error
	LogFilesExtracted(ctx context.Context, appointmentID, requestID string, fileIDs []string, succeeded, failed int) error
	LogSummaryPersisted(ctx context.Context, appointmentID, requestID, consultationID, summaryID, fallbackReason string, attempts int) error
	LogSummaryFailed(ctx context.Context, appointmentID, requestID, reason string) error
	LogManualTrigger(ctx context.Context, eventType compliance.AuditEventType, appointmentID, actor string) error
}

// ReviewNotifier alerts clinicians about summaries that need a human.
type ReviewNotifier interface {
	NotifyReviewNeeded(ctx context.Context, alert notify.ReviewAlert) error
}

// Coordinator drives Stage 1 and Stage 2 for one appointment per call.
type Coordinator struct {
	repo            intake.AppointmentRepository
	processor       BatchProcessor
	generator       SummaryGenerator
	detector        *CompletionDetector
	lock            *Lock
	audit           Auditor
	notifier        ReviewNotifier
	metrics         *metrics.PipelineMetrics
	logger          *logging.Logger
	documentSources []intake.ProcessingStatus
	summarySources  []intake.ProcessingStatus
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAuditor records lock conflicts, extractions, summaries and manual triggers.
func WithAuditor(a Auditor) CoordinatorOption {
	return func(c *Coordinator) {
		c.audit = a
	}
}

// WithReviewNotifier alerts reviewers when a fallback summary is stored or Stage 2 fails.
func WithReviewNotifier(n ReviewNotifier) CoordinatorOption {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.PipelineMetrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithDocumentSources overrides the statuses Stage 1 may claim an appointment from.
func WithDocumentSources(from ...intake.ProcessingStatus) CoordinatorOption {
	return func(c *Coordinator) {
		if len(from) > 0 {
			c.documentSources = from
		}
	}
}

// WithSummarySources overrides the statuses a direct Stage 2 call may claim from.
func WithSummarySources(from ...intake.ProcessingStatus) CoordinatorOption {
	return func(c *Coordinator) {
		if len(from) > 0 {
			c.summarySources = from
		}
	}
}

// NewCoordinator wires the stages together.
func NewCoordinator(repo intake.AppointmentRepository, processor BatchProcessor, generator SummaryGenerator, detector *CompletionDetector, logger *logging.Logger, opts ...CoordinatorOption) *Coordinator {
	if repo == nil {
		panic("pipeline: appointment repository cannot be nil")
	}
	if processor == nil {
		panic("pipeline: batch processor cannot be nil")
	}
	if generator == nil {
		panic("pipeline: summary generator cannot be nil")
	}
	if detector == nil {
		panic("pipeline: completion detector cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	claimable := intake.Sources(intake.StatusProcessing)
	c := &Coordinator{
		repo:            repo,
		processor:       processor,
		generator:       generator,
		detector:        detector,
		logger:          logger,
		documentSources: intake.Without(claimable, intake.StatusReadyForSummary),
		summarySources:  claimable,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, from := range append(append([]intake.ProcessingStatus(nil), c.documentSources...), c.summarySources...) {
		if !intake.CanTransition(from, intake.StatusProcessing) {
			panic(fmt.Sprintf("pipeline: status %q cannot be claimed for processing", from))
		}
	}
	c.lock = NewLock(repo, c.metrics, logger)
	return c
}

// ProcessFiles claims the appointment, extracts every unprocessed file and, once all
// files have been attempted, generates the summary in the same invocation.
func (c *Coordinator) ProcessFiles(ctx context.Context, req Request) (res Result) {
	ctx, span := tracer.Start(ctx, "pipeline.process_files")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", req.AppointmentID),
		attribute.String("pipeline.trigger", req.Trigger),
	)
	log := c.logger.With("appointment_id", req.AppointmentID, "request_id", req.RequestID, "stage", StageDocuments)

	if err := c.lock.Acquire(ctx, StageDocuments, req.AppointmentID, c.documentSources); err != nil {
		return c.acquireFailed(ctx, req, StageDocuments, err)
	}
	log.Info("document processing started", "trigger", req.Trigger)

	owned := true
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline: panic during document processing: %v", r)
			log.Error("recovered panic", "error", err)
			span.RecordError(err)
			to := intake.StatusProcessingFailed
			if !owned {
				to = intake.StatusFailed
			}
			c.lock.Release(ctx, req.AppointmentID, to, err.Error())
			res = errorResult(req, err)
			res.Status = to
		}
	}()

	started := time.Now()
	var (
		tally  extraction.BatchResult
		done   bool
		counts intake.FileCounts
	)
	for pass := 1; pass <= maxDocumentPasses; pass++ {
		batch, err := c.processor.ProcessAppointment(ctx, req.AppointmentID, attemptedIDs(tally)...)
		tally = mergeBatches(tally, batch)
		if err != nil {
			return c.releaseFailed(ctx, req, span, tally, err)
		}
		c.auditFiles(ctx, req, batch)

		done, counts, err = c.detector.AllSettled(ctx, req.AppointmentID, batch.Total)
		if err != nil {
			return c.releaseFailed(ctx, req, span, tally, err)
		}
		if done {
			break
		}
		log.Info("files linked during processing", "pass", pass, "total", counts.Total, "settled", counts.Settled())
	}
	c.metrics.ObserveStageDuration(StageDocuments, time.Since(started).Seconds())

	if !done {
		pending := counts.Total - counts.Settled()
		c.lock.Release(ctx, req.AppointmentID, intake.StatusProcessingFailed, fmt.Sprintf("%d file(s) not yet processed", pending))
		res = withBatch(noop(req, fmt.Sprintf("%d of %d files processed; waiting for remaining files", counts.Settled(), counts.Total)), tally)
		res.Status = intake.StatusProcessingFailed
		return res
	}

	log.Info("all files settled, generating summary", "total", counts.Total, "processed", counts.Processed, "failed", counts.Failed)
	owned = false
	return withBatch(c.summarize(ctx, req, span, log), tally)
}

// GenerateSummary claims the appointment from one of the given statuses and runs Stage 2
// if every file has already been attempted. An empty from uses the direct-call sources.
func (c *Coordinator) GenerateSummary(ctx context.Context, req Request, from []intake.ProcessingStatus) (res Result) {
	ctx, span := tracer.Start(ctx, "pipeline.generate_summary")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", req.AppointmentID),
		attribute.String("pipeline.trigger", req.Trigger),
	)
	log := c.logger.With("appointment_id", req.AppointmentID, "request_id", req.RequestID, "stage", StageSummary)

	if len(from) == 0 {
		from = c.summarySources
	}
	if err := c.lock.Acquire(ctx, StageSummary, req.AppointmentID, from); err != nil {
		return c.acquireFailed(ctx, req, StageSummary, err)
	}

	owned := true
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline: panic during summary generation: %v", r)
			log.Error("recovered panic", "error", err)
			span.RecordError(err)
			to := intake.StatusProcessingFailed
			if !owned {
				to = intake.StatusFailed
			}
			c.lock.Release(ctx, req.AppointmentID, to, err.Error())
			res = errorResult(req, err)
			res.Status = to
		}
	}()

	done, counts, err := c.detector.AllSettled(ctx, req.AppointmentID, 0)
	if err != nil {
		return c.releaseFailed(ctx, req, span, extraction.BatchResult{}, err)
	}
	if !done {
		pending := counts.Total - counts.Settled()
		log.Info("summary deferred, files remain", "total", counts.Total, "pending", pending)
		c.lock.Release(ctx, req.AppointmentID, intake.StatusProcessingFailed, fmt.Sprintf("%d file(s) not yet processed", pending))
		res = noop(req, fmt.Sprintf("%d of %d files processed; summary deferred", counts.Settled(), counts.Total))
		res.Status = intake.StatusProcessingFailed
		return res
	}

	owned = false
	return c.summarize(ctx, req, span, log)
}

// Reprocess resets a settled appointment to triggered and re-runs Stage 1. Files that
// already have text are kept; failed files get another attempt.
func (c *Coordinator) Reprocess(ctx context.Context, appointmentID, actor string) Result {
	req := Request{AppointmentID: appointmentID, Trigger: TriggerManualReprocess}
	if res, ok := c.reset(ctx, req, intake.StatusTriggered); !ok {
		return res
	}
	c.logManual(ctx, compliance.EventManualReprocess, appointmentID, actor)
	return c.ProcessFiles(ctx, req)
}

// Regenerate resets a settled appointment to ready_for_summary and re-runs Stage 2. An
// existing summary for the consultation is kept.
func (c *Coordinator) Regenerate(ctx context.Context, appointmentID, actor string) Result {
	req := Request{AppointmentID: appointmentID, Trigger: TriggerManualRegenerate}
	if res, ok := c.reset(ctx, req, intake.StatusReadyForSummary); !ok {
		return res
	}
	c.logManual(ctx, compliance.EventManualRegenerate, appointmentID, actor)
	return c.GenerateSummary(ctx, req, []intake.ProcessingStatus{intake.StatusReadyForSummary})
}

func (c *Coordinator) summarize(ctx context.Context, req Request, span trace.Span, log *logging.Logger) Result {
	out, err := c.generator.Generate(ctx, req.AppointmentID)
	if err != nil {
		span.RecordError(err)
		c.logAudit(ctx, "summary failed", func(a Auditor) error {
			return a.LogSummaryFailed(ctx, req.AppointmentID, req.RequestID, err.Error())
		})
		c.alert(ctx, notify.ReviewAlert{AppointmentID: req.AppointmentID, Error: err.Error()}, log)
		res := errorResult(req, err)
		res.Status = intake.StatusFailed
		return res
	}

	c.logAudit(ctx, "summary persisted", func(a Auditor) error {
		return a.LogSummaryPersisted(ctx, req.AppointmentID, req.RequestID, out.ConsultationID, out.SummaryID, out.FallbackReason, out.Attempts)
	})
	if out.Fallback && !out.AlreadyExisted {
		c.alert(ctx, notify.ReviewAlert{
			AppointmentID:  req.AppointmentID,
			ConsultationID: out.ConsultationID,
			SummaryID:      out.SummaryID,
			FallbackReason: out.FallbackReason,
		}, log)
	}

	message := "summary generated"
	switch {
	case out.AlreadyExisted:
		message = "summary already existed for consultation"
	case out.Fallback:
		message = "fallback summary stored for manual review"
	}
	return Result{
		StatusCode:    http.StatusOK,
		Success:       true,
		Message:       message,
		AppointmentID: req.AppointmentID,
		RequestID:     req.RequestID,
		Status:        intake.StatusCompleted,
		SummaryID:     out.SummaryID,
		Fallback:      out.Fallback,
	}
}

func (c *Coordinator) acquireFailed(ctx context.Context, req Request, stage string, err error) Result {
	if errors.Is(err, intake.ErrAppointmentNotFound) {
		c.logger.Info("appointment not found, nothing to process", "appointment_id", req.AppointmentID, "stage", stage)
		return noop(req, "no-op: appointment not found")
	}
	var conflict *intake.LockConflictError
	if errors.As(err, &conflict) {
		c.logAudit(ctx, "lock conflict", func(a Auditor) error {
			return a.LogLockConflict(ctx, req.AppointmentID, req.RequestID, stage)
		})
	} else {
		c.logger.Error("lock acquisition failed", "appointment_id", req.AppointmentID, "stage", stage, "error", err)
	}
	return errorResult(req, err)
}

func (c *Coordinator) releaseFailed(ctx context.Context, req Request, span trace.Span, tally extraction.BatchResult, err error) Result {
	span.RecordError(err)
	c.logger.Error("stage failed, releasing lock", "appointment_id", req.AppointmentID, "error", err)
	c.lock.Release(ctx, req.AppointmentID, intake.StatusProcessingFailed, err.Error())
	res := withBatch(errorResult(req, err), tally)
	res.Status = intake.StatusProcessingFailed
	return res
}

// reset moves a settled appointment to the re-trigger status. A miss is a 404 when the
// appointment does not exist and a 409 when it is being processed.
func (c *Coordinator) reset(ctx context.Context, req Request, to intake.ProcessingStatus) (Result, bool) {
	ok, err := c.repo.CompareAndSetStatus(ctx, req.AppointmentID, intake.ResetSources(to), to)
	if err != nil {
		return errorResult(req, fmt.Errorf("pipeline: reset status: %w", err)), false
	}
	if ok {
		return Result{}, true
	}
	if _, err := c.repo.GetAppointment(ctx, req.AppointmentID); err != nil {
		return errorResult(req, err), false
	}
	c.metrics.ObserveLockConflict(req.Trigger)
	return errorResult(req, &intake.LockConflictError{AppointmentID: req.AppointmentID}), false
}

func (c *Coordinator) auditFiles(ctx context.Context, req Request, batch extraction.BatchResult) {
	if batch.Total == 0 {
		return
	}
	ids := attemptedIDs(batch)
	c.logAudit(ctx, "files extracted", func(a Auditor) error {
		return a.LogFilesExtracted(ctx, req.AppointmentID, req.RequestID, ids, batch.Succeeded, batch.Failed)
	})
}

func (c *Coordinator) logManual(ctx context.Context, eventType compliance.AuditEventType, appointmentID, actor string) {
	c.logger.Info("manual re-trigger", "appointment_id", appointmentID, "event", eventType, "actor", actor)
	c.logAudit(ctx, "manual trigger", func(a Auditor) error {
		return a.LogManualTrigger(ctx, eventType, appointmentID, actor)
	})
}

// logAudit never fails the invocation; the audit trail is best effort.
func (c *Coordinator) logAudit(ctx context.Context, what string, fn func(Auditor) error) {
	if c.audit == nil {
		return
	}
	if err := fn(c.audit); err != nil {
		c.logger.Warn("audit write failed", "event", what, "error", err)
	}
}

func (c *Coordinator) alert(ctx context.Context, alert notify.ReviewAlert, log *logging.Logger) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyReviewNeeded(ctx, alert); err != nil {
		log.Warn("review alert failed", "error", err)
	}
}

func mergeBatches(a, b extraction.BatchResult) extraction.BatchResult {
	a.Total += b.Total
	a.Succeeded += b.Succeeded
	a.Failed += b.Failed
	a.Outcomes = append(a.Outcomes, b.Outcomes...)
	return a
}

// attemptedIDs lists the files an earlier pass already tried, so a later pass does not
// send a failed file upstream twice in one invocation.
func attemptedIDs(batch extraction.BatchResult) []string {
	ids := make([]string, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		ids = append(ids, o.FileID)
	}
	return ids
}

func withBatch(res Result, batch extraction.BatchResult) Result {
	res.FilesTotal = batch.Total
	res.FilesSucceeded = batch.Succeeded
	res.FilesFailed = batch.Failed
	return res
}
