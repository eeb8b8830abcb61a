package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
	"github.com/wolfman30/clinical-intake-pipeline/internal/runlog"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

type stubRecovery struct {
	calls []string
	res   pipeline.Result
}

func (s *stubRecovery) Reprocess(ctx context.Context, appointmentID, actor string) pipeline.Result {
	s.calls = append(s.calls, "reprocess:"+appointmentID+":"+actor)
	return s.res
}

func (s *stubRecovery) Regenerate(ctx context.Context, appointmentID, actor string) pipeline.Result {
	s.calls = append(s.calls, "regenerate:"+appointmentID+":"+actor)
	return s.res
}

type stubRuns struct {
	run *runlog.RunRecord
	err error
}

func (s *stubRuns) GetRun(ctx context.Context, runID string) (*runlog.RunRecord, error) {
	return s.run, s.err
}

type stubAudit struct {
	filter compliance.AuditFilter
	events []compliance.AuditEvent
	err    error
}

func (s *stubAudit) QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error) {
	s.filter = filter
	return s.events, s.err
}

func adminRouter(h *AdminRecoveryHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/admin/appointments/{appointmentID}/reprocess-files", h.ReprocessFiles)
	r.Post("/admin/appointments/{appointmentID}/regenerate-summary", h.RegenerateSummary)
	r.Get("/admin/appointments/{appointmentID}/audit-events", h.ListAuditEvents)
	r.Get("/admin/runs/{runID}", h.GetRun)
	return r
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAdminRecoveryReprocess(t *testing.T) {
	recovery := &stubRecovery{res: pipeline.Result{
		StatusCode:    http.StatusOK,
		Success:       true,
		AppointmentID: "appt-1",
		Status:        intake.StatusCompleted,
	}}
	h := adminRouter(NewAdminRecoveryHandler(AdminRecoveryConfig{Dispatcher: recovery, Logger: logging.Discard()}))

	rec := serve(h, http.MethodPost, "/admin/appointments/appt-1/reprocess-files")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"reprocess:appt-1:admin"}, recovery.calls)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestAdminRecoveryRegeneratePassesThroughStatus(t *testing.T) {
	recovery := &stubRecovery{res: pipeline.Result{StatusCode: http.StatusNotFound, Error: "intake: appointment not found"}}
	h := adminRouter(NewAdminRecoveryHandler(AdminRecoveryConfig{Dispatcher: recovery, Logger: logging.Discard()}))

	rec := serve(h, http.MethodPost, "/admin/appointments/missing/regenerate-summary")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"regenerate:missing:admin"}, recovery.calls)
}

func TestAdminRecoveryGetRun(t *testing.T) {
	runs := &stubRuns{run: &runlog.RunRecord{RunID: "run-1", AppointmentID: "appt-1", Status: runlog.RunStatusSucceeded}}
	h := adminRouter(NewAdminRecoveryHandler(AdminRecoveryConfig{Dispatcher: &stubRecovery{}, Runs: runs, Logger: logging.Discard()}))

	rec := serve(h, http.MethodGet, "/admin/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var run runlog.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "appt-1", run.AppointmentID)

	runs.run, runs.err = nil, runlog.ErrRunNotFound
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/admin/runs/run-2").Code)

	runs.err = errors.New("throttled")
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/admin/runs/run-2").Code)
}

func TestAdminRecoveryGetRunUnconfigured(t *testing.T) {
	h := adminRouter(NewAdminRecoveryHandler(AdminRecoveryConfig{Dispatcher: &stubRecovery{}, Logger: logging.Discard()}))
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "/admin/runs/run-1").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "/admin/appointments/a/audit-events").Code)
}

func TestAdminRecoveryListAuditEvents(t *testing.T) {
	audit := &stubAudit{events: []compliance.AuditEvent{{
		ID:            "evt-1",
		EventType:     compliance.EventSummaryFallback,
		AppointmentID: "appt-1",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	h := adminRouter(NewAdminRecoveryHandler(AdminRecoveryConfig{Dispatcher: &stubRecovery{}, Audit: audit, Logger: logging.Discard()}))

	rec := serve(h, http.MethodGet, "/admin/appointments/appt-1/audit-events?limit=9999&offset=5&event_type=pipeline.summary_fallback")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "appt-1", audit.filter.AppointmentID)
	assert.Equal(t, maxAuditLimit, audit.filter.Limit)
	assert.Equal(t, 5, audit.filter.Offset)
	assert.Equal(t, compliance.EventSummaryFallback, audit.filter.EventType)
	assert.Contains(t, rec.Body.String(), `"pipeline.summary_fallback"`)

	audit.events = nil
	rec = serve(h, http.MethodGet, "/admin/appointments/appt-2/audit-events?limit=abc")
	assert.Equal(t, defaultAuditLimit, audit.filter.Limit)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}
