// Package compliance records an immutable audit trail of pipeline decisions that touch
// clinical records: who locked an appointment, which summary was persisted and when an
// operator forced a re-run.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the type of pipeline audit event.
type AuditEventType string

const (
	// EventLockConflict is logged when an invocation loses the processing lock.
	EventLockConflict AuditEventType = "pipeline.lock_conflict"
	// EventFilesExtracted is logged after a Stage 1 batch has been persisted.
	EventFilesExtracted AuditEventType = "pipeline.files_extracted"
	// EventSummaryPersisted is logged when a model-generated summary is stored.
	EventSummaryPersisted AuditEventType = "pipeline.summary_persisted"
	// EventSummaryFallback is logged when the placeholder summary is stored instead.
	EventSummaryFallback AuditEventType = "pipeline.summary_fallback"
	// EventSummaryFailed is logged when Stage 2 ends with the appointment failed.
	EventSummaryFailed AuditEventType = "pipeline.summary_failed"
	// EventManualReprocess is logged when an operator re-runs document extraction.
	EventManualReprocess AuditEventType = "pipeline.manual_reprocess"
	// EventManualRegenerate is logged when an operator re-runs summary generation.
	EventManualRegenerate AuditEventType = "pipeline.manual_regenerate"
)

// AuditEvent represents an immutable pipeline audit record.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	AppointmentID string          `json:"appointment_id"`
	RequestID     string          `json:"request_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	FileIDs       []string        `json:"file_ids,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	Stage string `json:"stage,omitempty"`

	// For files extracted
	FilesTotal     int `json:"files_total,omitempty"`
	FilesSucceeded int `json:"files_succeeded,omitempty"`
	FilesFailed    int `json:"files_failed,omitempty"`

	// For summaries
	SummaryID      string `json:"summary_id,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`

	Error string `json:"error,omitempty"`
}

// AuditService handles pipeline audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a pipeline audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.FileIDs == nil {
		event.FileIDs = []string{}
	}

	query := `
		INSERT INTO pipeline_audit_events (
			id, event_type, appointment_id, request_id, actor,
			file_ids, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.AppointmentID,
		nullString(event.RequestID),
		nullString(event.Actor),
		pq.Array(event.FileIDs),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogLockConflict logs when a stage could not acquire the appointment.
func (s *AuditService) LogLockConflict(ctx context.Context, appointmentID, requestID, stage string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Stage: stage})

	return s.LogEvent(ctx, AuditEvent{
		EventType:     EventLockConflict,
		AppointmentID: appointmentID,
		RequestID:     requestID,
		Details:       detailsJSON,
	})
}

// LogFilesExtracted logs the outcome of a Stage 1 batch.
func (s *AuditService) LogFilesExtracted(ctx context.Context, appointmentID, requestID string, fileIDs []string, succeeded, failed int) error {
	detailsJSON, _ := json.Marshal(AuditDetails{
		Stage:          "documents",
		FilesTotal:     len(fileIDs),
		FilesSucceeded: succeeded,
		FilesFailed:    failed,
	})

	return s.LogEvent(ctx, AuditEvent{
		EventType:     EventFilesExtracted,
		AppointmentID: appointmentID,
		RequestID:     requestID,
		FileIDs:       fileIDs,
		Details:       detailsJSON,
	})
}

// LogSummaryPersisted logs a stored summary. A non-empty fallbackReason records the
// placeholder variant.
func (s *AuditService) LogSummaryPersisted(ctx context.Context, appointmentID, requestID, consultationID, summaryID, fallbackReason string, attempts int) error {
	eventType := EventSummaryPersisted
	if fallbackReason != "" {
		eventType = EventSummaryFallback
	}
	detailsJSON, _ := json.Marshal(AuditDetails{
		Stage:          "summary",
		SummaryID:      summaryID,
		ConsultationID: consultationID,
		FallbackReason: fallbackReason,
		Attempts:       attempts,
	})

	return s.LogEvent(ctx, AuditEvent{
		EventType:     eventType,
		AppointmentID: appointmentID,
		RequestID:     requestID,
		Details:       detailsJSON,
	})
}

// LogSummaryFailed logs a Stage 2 run that ended with the appointment failed.
func (s *AuditService) LogSummaryFailed(ctx context.Context, appointmentID, requestID, reason string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Stage: "summary", Error: reason})

	return s.LogEvent(ctx, AuditEvent{
		EventType:     EventSummaryFailed,
		AppointmentID: appointmentID,
		RequestID:     requestID,
		Details:       detailsJSON,
	})
}

// LogManualTrigger logs an operator-initiated re-run of a stage.
func (s *AuditService) LogManualTrigger(ctx context.Context, eventType AuditEventType, appointmentID, actor string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Actor:         actor,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, appointment_id, request_id, actor,
			   file_ids, details, created_at
		FROM pipeline_audit_events
		WHERE appointment_id = $1
	`
	args := []interface{}{filter.AppointmentID}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var requestID, actor sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.AppointmentID, &requestID, &actor,
			pq.Array(&e.FileIDs), &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.RequestID = requestID.String
		e.Actor = actor.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	AppointmentID string
	EventType     AuditEventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	Offset        int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
