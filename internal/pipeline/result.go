package pipeline

import (
	"errors"
	"net/http"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

// Result is the structured response of one pipeline invocation. StatusCode is the HTTP
// status for webhook callers; queue consumers use it to decide whether to acknowledge.
type Result struct {
	StatusCode     int                     `json:"-"`
	Success        bool                    `json:"success"`
	Message        string                  `json:"message,omitempty"`
	Error          string                  `json:"error,omitempty"`
	AppointmentID  string                  `json:"appointment_id,omitempty"`
	RequestID      string                  `json:"request_id,omitempty"`
	Status         intake.ProcessingStatus `json:"status,omitempty"`
	FilesTotal     int                     `json:"files_total,omitempty"`
	FilesSucceeded int                     `json:"files_succeeded,omitempty"`
	FilesFailed    int                     `json:"files_failed,omitempty"`
	SummaryID      string                  `json:"summary_id,omitempty"`
	Fallback       bool                    `json:"fallback,omitempty"`
	RunID          string                  `json:"run_id,omitempty"`
}

// Acknowledge reports whether a queued notification that produced this result should be
// removed from the queue. Lock conflicts are acknowledged: another invocation owns the work.
func (r Result) Acknowledge() bool {
	return r.StatusCode < http.StatusInternalServerError
}

// StatusFor maps a pipeline error onto the HTTP status reported to the caller.
func StatusFor(err error) int {
	var (
		malformed *intake.MalformedEventError
		conflict  *intake.LockConflictError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &malformed):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, intake.ErrAppointmentNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func noop(req Request, message string) Result {
	return Result{
		StatusCode:    http.StatusOK,
		Success:       true,
		Message:       message,
		AppointmentID: req.AppointmentID,
		RequestID:     req.RequestID,
	}
}

func errorResult(req Request, err error) Result {
	return Result{
		StatusCode:    StatusFor(err),
		Success:       false,
		Error:         err.Error(),
		AppointmentID: req.AppointmentID,
		RequestID:     req.RequestID,
	}
}
