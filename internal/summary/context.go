package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

// FileContext is one file's contribution to the prompt.
type FileContext struct {
	Name   string
	Type   intake.FileType
	Text   string
	Failed bool
	Error  string
}

// ClinicalContext is everything the prompt is built from.
type ClinicalContext struct {
	AppointmentID  string
	ConsultationID string
	PatientID      string
	ChiefComplaint string
	FormData       map[string]any
	VoiceData      map[string]any
	Patient        intake.Patient
	Age            int
	BMI            float64
	Files          []FileContext
}

// Sufficient reports whether there is anything to summarize at all.
func (c ClinicalContext) Sufficient() bool {
	if anyContent(c.FormData) || anyContent(c.VoiceData) {
		return true
	}
	for _, f := range c.Files {
		if strings.TrimSpace(f.Text) != "" {
			return true
		}
	}
	return false
}

// ExtractedFiles counts files with usable text.
func (c ClinicalContext) ExtractedFiles() int {
	n := 0
	for _, f := range c.Files {
		if !f.Failed && strings.TrimSpace(f.Text) != "" {
			n++
		}
	}
	return n
}

// Collect loads the consultation, patient and file texts for an appointment.
func Collect(ctx context.Context, store intake.Store, appt *intake.Appointment, now time.Time) (ClinicalContext, error) {
	if strings.TrimSpace(appt.ConsultationID) == "" {
		return ClinicalContext{}, &intake.MissingInputError{AppointmentID: appt.ID, Field: "consultation"}
	}
	if strings.TrimSpace(appt.PatientID) == "" {
		return ClinicalContext{}, &intake.MissingInputError{AppointmentID: appt.ID, Field: "patient"}
	}

	consultation, err := store.GetConsultation(ctx, appt.ConsultationID)
	if err != nil {
		if errors.Is(err, intake.ErrConsultationNotFound) {
			return ClinicalContext{}, &intake.MissingInputError{AppointmentID: appt.ID, Field: "consultation"}
		}
		return ClinicalContext{}, fmt.Errorf("summary: load consultation: %w", err)
	}
	patient, err := store.GetPatient(ctx, appt.PatientID)
	if err != nil {
		if errors.Is(err, intake.ErrPatientNotFound) {
			return ClinicalContext{}, &intake.MissingInputError{AppointmentID: appt.ID, Field: "patient"}
		}
		return ClinicalContext{}, fmt.Errorf("summary: load patient: %w", err)
	}
	files, err := store.ListAppointmentFiles(ctx, appt.ID)
	if err != nil {
		return ClinicalContext{}, fmt.Errorf("summary: list files: %w", err)
	}

	cc := ClinicalContext{
		AppointmentID:  appt.ID,
		ConsultationID: consultation.ID,
		PatientID:      patient.ID,
		ChiefComplaint: strings.TrimSpace(consultation.ChiefComplaint()),
		FormData:       consultation.FormData,
		VoiceData:      consultation.VoiceData,
		Patient:        *patient,
		Age:            patient.Age(now),
		BMI:            patient.BMI(),
	}
	for _, f := range files {
		fc := FileContext{Name: f.FileName, Type: f.FileType}
		switch {
		case f.Processed && f.ExtractedText != nil:
			fc.Text = *f.ExtractedText
		case f.ProcessingError != nil:
			fc.Failed = true
			fc.Error = *f.ProcessingError
		default:
			fc.Failed = true
			fc.Error = "not processed"
		}
		cc.Files = append(cc.Files, fc)
	}
	return cc, nil
}
