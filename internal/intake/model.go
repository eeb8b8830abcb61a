// Package intake holds the appointment, consultation, file and summary records the
// processing pipeline reads and writes, plus the storage contracts for them.
package intake

import (
	"math"
	"time"
)

// Appointment is the coordination record for one scheduled visit.
type Appointment struct {
	ID               string           `json:"id"`
	ConsultationID   string           `json:"consultation_id,omitempty"`
	PatientID        string           `json:"patient_id,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Consultation holds the submitted intake answers. It is never mutated by the pipeline.
type Consultation struct {
	ID        string         `json:"id"`
	PatientID string         `json:"patient_id"`
	FormData  map[string]any `json:"form_data,omitempty"`
	VoiceData map[string]any `json:"voice_data,omitempty"`
}

// ChiefComplaint returns the patient-stated reason for the visit, if any.
func (c *Consultation) ChiefComplaint() string {
	if c == nil {
		return ""
	}
	for _, key := range []string{"chiefComplaint", "chief_complaint"} {
		if v, ok := c.FormData[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Patient carries the demographic and history attributes used in the summary prompt.
type Patient struct {
	ID            string     `json:"id"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	FamilyHistory string     `json:"family_history,omitempty"`
	SmokingStatus string     `json:"smoking_status,omitempty"`
	AlcoholUse    string     `json:"alcohol_use,omitempty"`
	DrugUse       string     `json:"drug_use,omitempty"`
	Allergies     string     `json:"allergies,omitempty"`
	HeightCM      float64    `json:"height_cm,omitempty"`
	WeightKG      float64    `json:"weight_kg,omitempty"`
}

// Age returns the patient's age in whole years at now, or -1 when unknown.
func (p *Patient) Age(now time.Time) int {
	if p == nil || p.DateOfBirth == nil || p.DateOfBirth.IsZero() {
		return -1
	}
	dob := p.DateOfBirth.UTC()
	now = now.UTC()
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		return -1
	}
	return age
}

// BMI returns body-mass index rounded to one decimal, or 0 when height or weight is missing.
func (p *Patient) BMI() float64 {
	if p == nil || p.HeightCM <= 0 || p.WeightKG <= 0 {
		return 0
	}
	meters := p.HeightCM / 100
	return math.Round(p.WeightKG/(meters*meters)*10) / 10
}

// FileType is the declared kind of an uploaded file.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeImage    FileType = "image"
)

// PatientFile is an uploaded document or image attached to a consultation.
type PatientFile struct {
	ID              string    `json:"id"`
	ConsultationID  string    `json:"consultation_id"`
	AppointmentID   *string   `json:"appointment_id,omitempty"`
	FileName        string    `json:"file_name"`
	FilePath        string    `json:"file_path"`
	FileType        FileType  `json:"file_type"`
	MIMEType        string    `json:"mime_type,omitempty"`
	SizeBytes       int64     `json:"size_bytes,omitempty"`
	Processed       bool      `json:"processed"`
	ExtractedText   *string   `json:"extracted_text,omitempty"`
	ProcessingError *string   `json:"processing_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Eligible reports whether the file is linked to an appointment and may be extracted.
func (f *PatientFile) Eligible() bool {
	return f != nil && f.AppointmentID != nil && *f.AppointmentID != ""
}

// UrgencyLevel is the triage level reported in a clinical summary.
type UrgencyLevel string

const (
	UrgencyRoutine   UrgencyLevel = "routine"
	UrgencyUrgent    UrgencyLevel = "urgent"
	UrgencyEmergency UrgencyLevel = "emergency"
)

// ParseUrgency maps free text onto the three-value enum, defaulting to routine.
func ParseUrgency(v string) UrgencyLevel {
	switch UrgencyLevel(v) {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return UrgencyLevel(v)
	}
	return UrgencyRoutine
}

// SummaryPayload is the structured body of a clinical summary.
type SummaryPayload struct {
	ChiefComplaint          string       `json:"chief_complaint"`
	HistoryOfPresentIllness string       `json:"history_of_present_illness"`
	DifferentialDiagnoses   []string     `json:"differential_diagnoses"`
	RecommendedTests        []string     `json:"recommended_tests"`
	UrgencyLevel            UrgencyLevel `json:"urgency_level"`
}

// ClinicalSummary is written once per consultation and never updated in place.
type ClinicalSummary struct {
	ID               string           `json:"id"`
	ConsultationID   string           `json:"consultation_id"`
	PatientID        string           `json:"patient_id"`
	AppointmentID    string           `json:"appointment_id"`
	Payload          SummaryPayload   `json:"summary"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	Fallback         bool             `json:"is_fallback"`
	CreatedAt        time.Time        `json:"created_at"`
}
