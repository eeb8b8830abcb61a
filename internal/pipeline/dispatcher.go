package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinical-intake-pipeline/internal/events"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/internal/runlog"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// Route names the ingress a notification arrived on.
type Route string

const (
	RouteFiles   Route = "files"
	RouteSummary Route = "summary"
)

// ParseRoute maps a queue attribute or path segment to a route, defaulting to files.
func ParseRoute(raw string) Route {
	if Route(raw) == RouteSummary {
		return RouteSummary
	}
	return RouteFiles
}

// RequestDeduper remembers coordinated request ids that already ran a stage.
type RequestDeduper interface {
	AlreadyProcessed(ctx context.Context, stage, requestID string) (bool, error)
	MarkProcessed(ctx context.Context, stage, requestID, appointmentID string) (bool, error)
}

// RunRecorder keeps a diagnostic record of each invocation.
type RunRecorder interface {
	Start(ctx context.Context, run *runlog.RunRecord) error
	Finish(ctx context.Context, runID string, status runlog.RunStatus, result runlog.RunResult, errMsg string) error
}

// Dispatcher turns change notifications and admin commands into coordinator calls.
type Dispatcher struct {
	coord   *Coordinator
	dedupe  RequestDeduper
	runs    RunRecorder
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger
	newID   func() string
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeduper skips coordinated requests whose id already completed the stage.
func WithDeduper(d RequestDeduper) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.dedupe = d
	}
}

// WithRunRecorder records every invocation.
func WithRunRecorder(r RunRecorder) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.runs = r
	}
}

// WithDispatchMetrics wires Prometheus counters.
func WithDispatchMetrics(m *metrics.PipelineMetrics) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.metrics = m
	}
}

// NewDispatcher creates a dispatcher over the coordinator.
func NewDispatcher(coord *Coordinator, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if coord == nil {
		panic("pipeline: coordinator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		coord:  coord,
		logger: logger,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch parses a notification body and runs whatever stage the route calls for.
func (d *Dispatcher) Dispatch(ctx context.Context, route Route, body []byte) Result {
	evt, err := events.Parse(body)
	if err != nil {
		d.metrics.ObserveEvent("malformed", "rejected")
		d.logger.Warn("rejecting malformed notification", "route", route, "error", err)
		return errorResult(Request{}, err)
	}
	return d.DispatchEvent(ctx, route, evt)
}

// DispatchEvent runs the stage an already parsed event calls for.
func (d *Dispatcher) DispatchEvent(ctx context.Context, route Route, evt events.ChangeEvent) Result {
	id, ok := evt.ActionableAppointmentID()
	req := Request{AppointmentID: id, RequestID: evt.RequestID, Trigger: string(evt.Kind)}
	if !ok {
		reason := evt.Reason
		if reason == "" {
			reason = "no appointment id"
		}
		d.metrics.ObserveEvent(string(evt.Kind), "noop")
		d.logger.Debug("ignoring notification", "kind", evt.Kind, "route", route, "reason", reason)
		return noop(req, "no-op: "+reason)
	}

	stage, from, reason := plan(route, evt)
	if stage == "" {
		d.metrics.ObserveEvent(string(evt.Kind), "noop")
		d.logger.Debug("ignoring notification", "kind", evt.Kind, "route", route, "appointment_id", id, "reason", reason)
		return noop(req, "no-op: "+reason)
	}

	if req.RequestID != "" && d.dedupe != nil {
		done, err := d.dedupe.AlreadyProcessed(ctx, stage, req.RequestID)
		if err != nil {
			d.metrics.ObserveEvent(string(evt.Kind), "error")
			return errorResult(req, fmt.Errorf("pipeline: check processed request: %w", err))
		}
		if done {
			d.metrics.ObserveEvent(string(evt.Kind), "duplicate")
			return noop(req, "no-op: request already processed")
		}
	}

	res := d.record(ctx, stage, req, func(ctx context.Context) Result {
		if stage == StageSummary {
			return d.coord.GenerateSummary(ctx, req, from)
		}
		return d.coord.ProcessFiles(ctx, req)
	})

	if reachedOutcome(res) && req.RequestID != "" && d.dedupe != nil {
		if _, err := d.dedupe.MarkProcessed(ctx, stage, req.RequestID, id); err != nil {
			d.logger.Warn("failed to record processed request", "request_id", req.RequestID, "stage", stage, "error", err)
		}
	}
	d.metrics.ObserveEvent(string(evt.Kind), outcomeLabel(res))
	return res
}

// Reprocess re-runs Stage 1 for an operator.
func (d *Dispatcher) Reprocess(ctx context.Context, appointmentID, actor string) Result {
	req := Request{AppointmentID: appointmentID, Trigger: TriggerManualReprocess}
	return d.record(ctx, StageDocuments, req, func(ctx context.Context) Result {
		return d.coord.Reprocess(ctx, appointmentID, actor)
	})
}

// Regenerate re-runs Stage 2 for an operator.
func (d *Dispatcher) Regenerate(ctx context.Context, appointmentID, actor string) Result {
	req := Request{AppointmentID: appointmentID, Trigger: TriggerManualRegenerate}
	return d.record(ctx, StageSummary, req, func(ctx context.Context) Result {
		return d.coord.Regenerate(ctx, appointmentID, actor)
	})
}

// plan decides which stage an event starts. Appointment status changes written by the
// pipeline itself (processing, processing_failed, completed, failed) never start a stage,
// and neither do file updates that record an extraction outcome.
func plan(route Route, evt events.ChangeEvent) (string, []intake.ProcessingStatus, string) {
	if route == RouteSummary {
		switch evt.Kind {
		case events.KindDirectCall, events.KindCoordinated:
			return StageSummary, nil, ""
		case events.KindAppointmentUpdated:
			if evt.StatusChanged() && evt.Status == intake.StatusReadyForSummary {
				return StageSummary, []intake.ProcessingStatus{intake.StatusReadyForSummary}, ""
			}
			return "", nil, "appointment is not ready for summary"
		case events.KindAppointmentCreated:
			if evt.Status == intake.StatusPending || evt.Status == intake.StatusTriggered {
				return StageSummary, []intake.ProcessingStatus{intake.StatusPending, intake.StatusTriggered}, ""
			}
			return "", nil, "new appointment status does not start a summary"
		default:
			return "", nil, "file events do not start a summary"
		}
	}

	switch evt.Kind {
	case events.KindAppointmentCreated, events.KindFileInserted, events.KindFileLinked,
		events.KindDirectCall, events.KindCoordinated:
		return StageDocuments, nil, ""
	case events.KindAppointmentUpdated:
		if evt.StatusChanged() && (evt.Status == intake.StatusPending || evt.Status == intake.StatusTriggered) {
			return StageDocuments, nil, ""
		}
		return "", nil, "appointment update does not start document processing"
	case events.KindFileUpdated:
		if evt.FileSettled {
			return "", nil, "file already attempted"
		}
		return StageDocuments, nil, ""
	default:
		return "", nil, "unsupported event"
	}
}

func (d *Dispatcher) record(ctx context.Context, stage string, req Request, run func(context.Context) Result) Result {
	runID := d.newID()
	started := time.Now()
	if d.runs != nil {
		if err := d.runs.Start(ctx, &runlog.RunRecord{
			RunID:         runID,
			AppointmentID: req.AppointmentID,
			Stage:         stage,
			Trigger:       req.Trigger,
			RequestID:     req.RequestID,
		}); err != nil {
			d.logger.Warn("failed to start run record", "run_id", runID, "error", err)
		}
	}

	res := run(ctx)

	d.logger.Info("pipeline invocation finished",
		"run_id", runID,
		"appointment_id", req.AppointmentID,
		"request_id", req.RequestID,
		"stage", stage,
		"trigger", req.Trigger,
		"status_code", res.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if d.runs != nil {
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := d.runs.Finish(finishCtx, runID, runStatus(res), runResult(res), res.Error); err != nil {
			d.logger.Warn("failed to finish run record", "run_id", runID, "error", err)
		}
		res.RunID = runID
	}
	return res
}

func runStatus(res Result) runlog.RunStatus {
	switch {
	case res.StatusCode == http.StatusConflict:
		return runlog.RunStatusConflict
	case res.Success && res.Status == intake.StatusProcessingFailed:
		return runlog.RunStatusSkipped
	case res.Success:
		return runlog.RunStatusSucceeded
	default:
		return runlog.RunStatusFailed
	}
}

func runResult(res Result) runlog.RunResult {
	return runlog.RunResult{
		HTTPStatus:     res.StatusCode,
		Message:        res.Message,
		FilesTotal:     res.FilesTotal,
		FilesSucceeded: res.FilesSucceeded,
		FilesFailed:    res.FilesFailed,
		SummaryID:      res.SummaryID,
		Fallback:       res.Fallback,
	}
}

// reachedOutcome holds when the invocation finished the appointment. Deferred and
// no-op results leave the request free to run again on redelivery.
func reachedOutcome(res Result) bool {
	return res.Success && res.Status == intake.StatusCompleted
}

func outcomeLabel(res Result) string {
	switch {
	case res.StatusCode == http.StatusConflict:
		return "conflict"
	case res.Success:
		return "ok"
	default:
		return "error"
	}
}
