package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const releaseTimeout = 10 * time.Second

// Lock claims an appointment by moving it to processing with a single conditional update.
// There is no lease: the owner must release it on every exit path.
type Lock struct {
	repo    intake.AppointmentRepository
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger
}

// NewLock builds a lock manager over the appointment repository.
func NewLock(repo intake.AppointmentRepository, m *metrics.PipelineMetrics, logger *logging.Logger) *Lock {
	if repo == nil {
		panic("pipeline: appointment repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Lock{repo: repo, metrics: m, logger: logger}
}

// Acquire moves the appointment from one of the given statuses to processing. It never
// retries: a miss is reported as *intake.LockConflictError and nothing else is written.
func (l *Lock) Acquire(ctx context.Context, stage, appointmentID string, from []intake.ProcessingStatus) error {
	ok, err := l.repo.CompareAndSetStatus(ctx, appointmentID, from, intake.StatusProcessing)
	if err != nil {
		return fmt.Errorf("pipeline: acquire lock: %w", err)
	}
	if !ok {
		l.metrics.ObserveLockConflict(stage)
		l.logger.Info("lock not acquired", "appointment_id", appointmentID, "stage", stage)
		return &intake.LockConflictError{AppointmentID: appointmentID}
	}
	l.logger.Debug("lock acquired", "appointment_id", appointmentID, "stage", stage)
	return nil
}

// Release writes the post-processing status unconditionally. A target the status graph
// does not allow after processing is written as processing_failed. The write outlives a
// cancelled caller context; a failure is logged and counted but never returned, since it
// must not change the response of the invocation that held the lock.
func (l *Lock) Release(ctx context.Context, appointmentID string, to intake.ProcessingStatus, errMsg string) {
	if target, ok := intake.ReleaseTarget(to); !ok {
		l.metrics.ObserveIllegalTransition(string(to))
		l.logger.Warn("illegal release target", "appointment_id", appointmentID, "requested", to, "status", target)
		to = target
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := l.repo.SetStatus(writeCtx, appointmentID, to, errMsg); err != nil {
		l.metrics.ObserveReleaseFailure()
		l.logger.Error("lock release failed", "appointment_id", appointmentID, "status", to, "error", err)
		return
	}
	l.logger.Debug("lock released", "appointment_id", appointmentID, "status", to)
}
