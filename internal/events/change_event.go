package events

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

// Kind identifies which notification dialect a ChangeEvent was parsed from.
type Kind string

const (
	KindAppointmentCreated Kind = "appointment_created"
	KindAppointmentUpdated Kind = "appointment_updated"
	KindFileInserted       Kind = "file_inserted"
	KindFileLinked         Kind = "file_linked"
	KindFileUpdated        Kind = "file_updated"
	KindDirectCall         Kind = "direct_call"
	KindCoordinated        Kind = "coordinated"
	KindUnrecognized       Kind = "unrecognized"
)

const (
	TableAppointments = "appointments"
	TablePatientFiles = "patient_files"

	TypeInsert     = "INSERT"
	TypeUpdate     = "UPDATE"
	TypeDirectCall = "DIRECT_CALL"
)

// ChangeEvent is the normalized form of every notification the pipeline accepts.
type ChangeEvent struct {
	Kind          Kind                    `json:"kind"`
	Type          string                  `json:"type,omitempty"`
	Table         string                  `json:"table,omitempty"`
	AppointmentID string                  `json:"appointment_id,omitempty"`
	RequestID     string                  `json:"request_id,omitempty"`
	Status        intake.ProcessingStatus `json:"status,omitempty"`
	OldStatus     intake.ProcessingStatus `json:"old_status,omitempty"`
	// FileSettled is set for patient_files events whose record was already attempted:
	// it is processed or carries a processing error.
	FileSettled   bool                    `json:"file_settled,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
}

// ActionableAppointmentID returns the appointment the event refers to, if any.
func (e ChangeEvent) ActionableAppointmentID() (string, bool) {
	if e.Kind == KindUnrecognized || strings.TrimSpace(e.AppointmentID) == "" {
		return "", false
	}
	return e.AppointmentID, true
}

// StatusChanged reports whether an update moved the appointment into a new status.
func (e ChangeEvent) StatusChanged() bool {
	return e.Kind == KindAppointmentUpdated && e.Status != "" && e.Status != e.OldStatus
}

type envelope struct {
	Type          string          `json:"type"`
	Table         string          `json:"table"`
	Record        json.RawMessage `json:"record"`
	OldRecord     json.RawMessage `json:"old_record"`
	AppointmentID *string         `json:"appointment_id"`
	RequestID     string          `json:"request_id"`
}

type record struct {
	ID               *string `json:"id"`
	AppointmentID    *string `json:"appointment_id"`
	ProcessingStatus *string `json:"processing_status"`
	Processed        *bool   `json:"processed"`
	ProcessingError  *string `json:"processing_error"`
}

// Parse decodes a notification body. Only bodies that are not a JSON object are errors;
// any object that does not match a known dialect comes back as KindUnrecognized.
func Parse(body []byte) (ChangeEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ChangeEvent{}, &intake.MalformedEventError{Reason: "empty body"}
	}
	if trimmed[0] != '{' {
		return ChangeEvent{}, &intake.MalformedEventError{Reason: "body is not a JSON object"}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return ChangeEvent{}, &intake.MalformedEventError{Reason: "invalid JSON", Err: err}
	}

	if env.Type == "" && len(env.Record) == 0 {
		return parseCoordinated(env), nil
	}
	return parseWebhook(env)
}

func parseCoordinated(env envelope) ChangeEvent {
	id := deref(env.AppointmentID)
	if id == "" {
		return unrecognized("payload has neither appointment_id nor type/record")
	}
	return ChangeEvent{
		Kind:          KindCoordinated,
		AppointmentID: id,
		RequestID:     strings.TrimSpace(env.RequestID),
	}
}

func parseWebhook(env envelope) (ChangeEvent, error) {
	typ := strings.ToUpper(strings.TrimSpace(env.Type))
	table := strings.ToLower(strings.TrimSpace(env.Table))

	var rec, old record
	if err := decodeRecord(env.Record, &rec); err != nil {
		return ChangeEvent{}, &intake.MalformedEventError{Reason: "record is not an object", Err: err}
	}
	if err := decodeRecord(env.OldRecord, &old); err != nil {
		return ChangeEvent{}, &intake.MalformedEventError{Reason: "old_record is not an object", Err: err}
	}

	evt := ChangeEvent{Type: typ, Table: table, RequestID: strings.TrimSpace(env.RequestID)}

	if typ == TypeDirectCall {
		evt.Kind = KindDirectCall
		evt.AppointmentID = firstNonEmpty(deref(env.AppointmentID), deref(rec.AppointmentID))
		if table == TableAppointments || table == "" {
			evt.AppointmentID = firstNonEmpty(evt.AppointmentID, deref(rec.ID))
		}
		if evt.AppointmentID == "" {
			return unrecognized("direct call without appointment id"), nil
		}
		return evt, nil
	}

	if typ != TypeInsert && typ != TypeUpdate {
		return unrecognized("unsupported event type " + env.Type), nil
	}

	switch table {
	case TableAppointments:
		evt.AppointmentID = deref(rec.ID)
		evt.Status = intake.ProcessingStatus(deref(rec.ProcessingStatus))
		evt.OldStatus = intake.ProcessingStatus(deref(old.ProcessingStatus))
		if evt.Status != "" && !evt.Status.Valid() {
			return unrecognized("unknown processing status " + string(evt.Status)), nil
		}
		if typ == TypeInsert {
			evt.Kind = KindAppointmentCreated
		} else {
			evt.Kind = KindAppointmentUpdated
		}
	case TablePatientFiles:
		evt.AppointmentID = deref(rec.AppointmentID)
		evt.FileSettled = (rec.Processed != nil && *rec.Processed) || deref(rec.ProcessingError) != ""
		switch {
		case typ == TypeInsert:
			evt.Kind = KindFileInserted
		case deref(old.AppointmentID) == "" && evt.AppointmentID != "":
			evt.Kind = KindFileLinked
		default:
			evt.Kind = KindFileUpdated
		}
		if evt.AppointmentID == "" {
			evt.Reason = "file is not linked to an appointment yet"
		}
	default:
		return unrecognized("unsupported table " + env.Table), nil
	}
	return evt, nil
}

func decodeRecord(raw json.RawMessage, out *record) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func unrecognized(reason string) ChangeEvent {
	return ChangeEvent{Kind: KindUnrecognized, Reason: reason}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
