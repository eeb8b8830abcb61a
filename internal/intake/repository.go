package intake

import "context"

// AppointmentRepository reads and mutates the appointment's processing status.
type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// CompareAndSetStatus moves the appointment to `to` only if its current status is one of
	// `from`. It is a single atomic conditional update; false means no row matched.
	CompareAndSetStatus(ctx context.Context, id string, from []ProcessingStatus, to ProcessingStatus) (bool, error)
	// SetStatus writes the status unconditionally. An empty errMsg clears error_message.
	SetStatus(ctx context.Context, id string, to ProcessingStatus, errMsg string) error
}

// FileRepository reads and records per-file extraction results.
type FileRepository interface {
	ListUnprocessedFiles(ctx context.Context, appointmentID string) ([]PatientFile, error)
	ListAppointmentFiles(ctx context.Context, appointmentID string) ([]PatientFile, error)
	MarkFileProcessed(ctx context.Context, fileID, text string) error
	MarkFileFailed(ctx context.Context, fileID, reason string) error
	CountFiles(ctx context.Context, appointmentID string) (FileCounts, error)
}

// ConsultationRepository loads the read-only intake inputs.
type ConsultationRepository interface {
	GetConsultation(ctx context.Context, id string) (*Consultation, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
}

// SummaryRepository persists clinical summaries, at most one per consultation.
type SummaryRepository interface {
	// FindSummaryID returns the id of the consultation's stored summary, or "" when
	// none exists.
	FindSummaryID(ctx context.Context, consultationID string) (string, error)
	// InsertSummary returns false when a summary for the consultation already exists,
	// in which case summary.ID is replaced by the stored id.
	InsertSummary(ctx context.Context, summary *ClinicalSummary) (bool, error)
}

// FileCounts tallies an appointment's linked files. A failed file has been attempted
// and carries a processing error but is not processed.
type FileCounts struct {
	Total     int
	Processed int
	Failed    int
}

// Settled is the number of files that have been attempted at least once.
func (c FileCounts) Settled() int {
	return c.Processed + c.Failed
}

// AllSettled holds when there are no files or none is still waiting for a first attempt.
func (c FileCounts) AllSettled() bool {
	return c.Total == 0 || c.Settled() >= c.Total
}

// Store bundles every repository the pipeline needs.
type Store interface {
	AppointmentRepository
	FileRepository
	ConsultationRepository
	SummaryRepository
}
