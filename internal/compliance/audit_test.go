package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name    string
		event   AuditEvent
		wantErr bool
	}{
		{
			name: "log lock conflict",
			event: AuditEvent{
				EventType:     EventLockConflict,
				AppointmentID: uuid.New().String(),
				RequestID:     "req-123",
			},
		},
		{
			name: "log extracted files",
			event: AuditEvent{
				EventType:     EventFilesExtracted,
				AppointmentID: uuid.New().String(),
				FileIDs:       []string{"file-1", "file-2"},
				Details:       json.RawMessage(`{"files_total": 2}`),
			},
		},
		{
			name: "log manual reprocess",
			event: AuditEvent{
				EventType:     EventManualReprocess,
				AppointmentID: uuid.New().String(),
				Actor:         "ops@clinic.test",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO pipeline_audit_events").
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := service.LogEvent(context.Background(), tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogEventWrapsDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO pipeline_audit_events").
		WillReturnError(errors.New("connection reset"))

	err = NewAuditService(db).LogEvent(context.Background(), AuditEvent{
		EventType:     EventSummaryFailed,
		AppointmentID: "appt-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compliance: failed to log audit event")
}

func TestAuditService_LogLockConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectExec("INSERT INTO pipeline_audit_events").
		WithArgs(sqlmock.AnyArg(), EventLockConflict, "appt-1", "req-9", nil, "{}", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.LogLockConflict(context.Background(), "appt-1", "req-9", "documents")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogFilesExtractedStoresFileIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectExec("INSERT INTO pipeline_audit_events").
		WithArgs(sqlmock.AnyArg(), EventFilesExtracted, "appt-1", "req-1", nil, `{"f-1","f-2"}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.LogFilesExtracted(context.Background(), "appt-1", "req-1", []string{"f-1", "f-2"}, 1, 1)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogSummaryPersistedChoosesFallbackEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	mock.ExpectExec("INSERT INTO pipeline_audit_events").
		WithArgs(sqlmock.AnyArg(), EventSummaryPersisted, "appt-1", nil, nil, "{}", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO pipeline_audit_events").
		WithArgs(sqlmock.AnyArg(), EventSummaryFallback, "appt-2", nil, nil, "{}", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, service.LogSummaryPersisted(context.Background(), "appt-1", "", "consult-1", "sum-1", "", 1))
	require.NoError(t, service.LogSummaryPersisted(context.Background(), "appt-2", "", "consult-2", "sum-2", "model_overloaded", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "appointment_id", "request_id", "actor",
		"file_ids", "details", "created_at",
	}).AddRow(
		uuid.New().String(), EventFilesExtracted, "appt-123", "req-1", nil,
		[]byte(`{f-1,f-2}`), []byte(`{"files_total":2}`), now,
	)

	mock.ExpectQuery("SELECT (.+) FROM pipeline_audit_events").
		WillReturnRows(rows)

	filter := AuditFilter{
		AppointmentID: "appt-123",
		StartTime:     now.Add(-24 * time.Hour),
		EndTime:       now,
		Limit:         100,
	}

	events, err := service.QueryEvents(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFilesExtracted, events[0].EventType)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Empty(t, events[0].Actor)
	assert.Equal(t, []string{"f-1", "f-2"}, events[0].FileIDs)
	assert.JSONEq(t, `{"files_total":2}`, string(events[0].Details))
}

func TestAuditEventType_String(t *testing.T) {
	tests := []struct {
		eventType AuditEventType
		expected  string
	}{
		{EventLockConflict, "pipeline.lock_conflict"},
		{EventSummaryPersisted, "pipeline.summary_persisted"},
		{EventSummaryFallback, "pipeline.summary_fallback"},
		{EventManualReprocess, "pipeline.manual_reprocess"},
		{EventManualRegenerate, "pipeline.manual_regenerate"},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.eventType))
		})
	}
}
