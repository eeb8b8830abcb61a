package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	httpmiddleware "github.com/wolfman30/clinical-intake-pipeline/internal/http/middleware"
	"github.com/wolfman30/clinical-intake-pipeline/internal/pipeline"
	"github.com/wolfman30/clinical-intake-pipeline/internal/runlog"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// RecoveryDispatcher re-runs a stage on operator request.
type RecoveryDispatcher interface {
	Reprocess(ctx context.Context, appointmentID, actor string) pipeline.Result
	Regenerate(ctx context.Context, appointmentID, actor string) pipeline.Result
}

// RunReader looks up a recorded pipeline invocation.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*runlog.RunRecord, error)
}

// AuditReader lists audit events for an appointment.
type AuditReader interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

type AdminRecoveryConfig struct {
	Dispatcher RecoveryDispatcher
	Runs       RunReader
	Audit      AuditReader
	Logger     *logging.Logger
}

// AdminRecoveryHandler exposes manual re-trigger and diagnostics endpoints.
type AdminRecoveryHandler struct {
	dispatcher RecoveryDispatcher
	runs       RunReader
	audit      AuditReader
	logger     *logging.Logger
}

func NewAdminRecoveryHandler(cfg AdminRecoveryConfig) *AdminRecoveryHandler {
	if cfg.Dispatcher == nil {
		panic("handlers: recovery dispatcher cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AdminRecoveryHandler{
		dispatcher: cfg.Dispatcher,
		runs:       cfg.Runs,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
	}
}

// ReprocessFiles resets a stuck or finished appointment and re-runs Stage 1.
// Route: POST /admin/appointments/{appointmentID}/reprocess-files
func (h *AdminRecoveryHandler) ReprocessFiles(w http.ResponseWriter, r *http.Request) {
	appointmentID := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	if appointmentID == "" {
		writeJSON(w, http.StatusBadRequest, pipeline.Result{Error: "missing appointmentID"})
		return
	}
	actor := httpmiddleware.AdminActor(r.Context())
	h.logger.Info("manual reprocess requested", "appointment_id", appointmentID, "actor", actor)

	res := h.dispatcher.Reprocess(r.Context(), appointmentID, actor)
	writeJSON(w, res.StatusCode, res)
}

// RegenerateSummary resets an appointment to ready_for_summary and re-runs Stage 2.
// Route: POST /admin/appointments/{appointmentID}/regenerate-summary
func (h *AdminRecoveryHandler) RegenerateSummary(w http.ResponseWriter, r *http.Request) {
	appointmentID := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	if appointmentID == "" {
		writeJSON(w, http.StatusBadRequest, pipeline.Result{Error: "missing appointmentID"})
		return
	}
	actor := httpmiddleware.AdminActor(r.Context())
	h.logger.Info("manual regenerate requested", "appointment_id", appointmentID, "actor", actor)

	res := h.dispatcher.Regenerate(r.Context(), appointmentID, actor)
	writeJSON(w, res.StatusCode, res)
}

// GetRun returns one recorded invocation.
// Route: GET /admin/runs/{runID}
func (h *AdminRecoveryHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run records not configured", http.StatusServiceUnavailable)
		return
	}
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runlog.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load run", "error", err, "run_id", runID)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListAuditEvents returns the audit trail of one appointment, newest first.
// Route: GET /admin/appointments/{appointmentID}/audit-events?limit=&offset=
func (h *AdminRecoveryHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		http.Error(w, "audit trail not configured", http.StatusServiceUnavailable)
		return
	}
	appointmentID := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	filter := compliance.AuditFilter{
		AppointmentID: appointmentID,
		EventType:     compliance.AuditEventType(r.URL.Query().Get("event_type")),
		Limit:         queryInt(r, "limit", defaultAuditLimit),
		Offset:        queryInt(r, "offset", 0),
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "error", err, "appointment_id", appointmentID)
		http.Error(w, "failed to query audit events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment_id": appointmentID,
		"events":         events,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
