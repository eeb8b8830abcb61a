package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/observability/metrics"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

type failingStatusRepo struct {
	*intake.MemoryStore
	setErr error
}

func (r *failingStatusRepo) SetStatus(ctx context.Context, id string, to intake.ProcessingStatus, errMsg string) error {
	return r.setErr
}

func TestLockAcquire(t *testing.T) {
	store := intake.NewMemoryStore()
	seedAppointment(store, "appt-1", intake.StatusTriggered)
	lock := NewLock(store, nil, logging.Discard())

	require.NoError(t, lock.Acquire(context.Background(), StageDocuments, "appt-1", []intake.ProcessingStatus{intake.StatusTriggered}))
	assert.Equal(t, intake.StatusProcessing, statusOf(t, store, "appt-1"))

	err := lock.Acquire(context.Background(), StageDocuments, "appt-1", []intake.ProcessingStatus{intake.StatusTriggered})
	var conflict *intake.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "appt-1", conflict.AppointmentID)
	assert.Equal(t, intake.StatusProcessing, statusOf(t, store, "appt-1"))
}

func TestLockConflictIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	store := intake.NewMemoryStore()
	seedAppointment(store, "appt-1", intake.StatusCompleted)
	lock := NewLock(store, m, logging.Discard())

	err := lock.Acquire(context.Background(), StageSummary, "appt-1", []intake.ProcessingStatus{intake.StatusReadyForSummary})
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "intake_pipeline_lock_conflicts_total"))
}

func TestLockReleaseFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	repo := &failingStatusRepo{MemoryStore: intake.NewMemoryStore(), setErr: errors.New("connection reset")}
	lock := NewLock(repo, m, logging.Discard())

	assert.NotPanics(t, func() {
		lock.Release(context.Background(), "appt-1", intake.StatusProcessingFailed, "boom")
	})
	assert.Equal(t, 1.0, counterValue(t, reg, "intake_pipeline_lock_release_failures_total"))
}

func TestLockReleaseWritesStatusAndMessage(t *testing.T) {
	store := intake.NewMemoryStore()
	seedAppointment(store, "appt-1", intake.StatusProcessing)
	lock := NewLock(store, nil, nil)

	lock.Release(context.Background(), "appt-1", intake.StatusProcessingFailed, "2 file(s) not yet processed")

	appt, err := store.GetAppointment(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, intake.StatusProcessingFailed, appt.ProcessingStatus)
	assert.Equal(t, "2 file(s) not yet processed", appt.ErrorMessage)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestLockReleaseRewritesIllegalTarget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	store := intake.NewMemoryStore()
	seedAppointment(store, "appt-1", intake.StatusProcessing)
	lock := NewLock(store, m, logging.Discard())

	lock.Release(context.Background(), "appt-1", intake.StatusPending, "stage gave up")

	assert.Equal(t, intake.StatusProcessingFailed, statusOf(t, store, "appt-1"))
	assert.Equal(t, 1.0, counterValue(t, reg, "intake_pipeline_illegal_transitions_total"))
}
