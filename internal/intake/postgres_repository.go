package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on the pipeline's Postgres schema.
type PostgresStore struct {
	db rowQuerier
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore builds a Store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("intake: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithQuerier(db rowQuerier) *PostgresStore {
	if db == nil {
		panic("intake: querier required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var (
		appt           Appointment
		consultationID pgtype.Text
		patientID      pgtype.Text
		errMsg         pgtype.Text
		status         string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, consultation_id, patient_id, processing_status, error_message, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(&appt.ID, &consultationID, &patientID, &status, &errMsg, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("intake: get appointment: %w", err)
	}
	appt.ConsultationID = consultationID.String
	appt.PatientID = patientID.String
	appt.ErrorMessage = errMsg.String
	appt.ProcessingStatus = ProcessingStatus(status)
	return &appt, nil
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, from []ProcessingStatus, to ProcessingStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("intake: compare-and-set requires at least one source status")
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET processing_status = $2,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1 AND processing_status = ANY($3)
	`, id, string(to), StatusStrings(from))
	if isInvalidID(err) {
		return false, ErrAppointmentNotFound
	}
	if err != nil {
		return false, fmt.Errorf("intake: compare-and-set status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, to ProcessingStatus, errMsg string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET processing_status = $2,
		    error_message = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, string(to), nullString(errMsg))
	if isInvalidID(err) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return fmt.Errorf("intake: set status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

const fileColumns = `id, consultation_id, appointment_id, file_name, file_path, file_type,
		       mime_type, size_bytes, processed, extracted_text, processing_error, created_at`

func (s *PostgresStore) ListUnprocessedFiles(ctx context.Context, appointmentID string) ([]PatientFile, error) {
	return s.listFiles(ctx, `
		SELECT `+fileColumns+`
		FROM patient_files
		WHERE appointment_id = $1 AND (processed = false OR processed IS NULL)
		ORDER BY created_at ASC
	`, appointmentID)
}

func (s *PostgresStore) ListAppointmentFiles(ctx context.Context, appointmentID string) ([]PatientFile, error) {
	return s.listFiles(ctx, `
		SELECT `+fileColumns+`
		FROM patient_files
		WHERE appointment_id = $1
		ORDER BY created_at ASC
	`, appointmentID)
}

func (s *PostgresStore) listFiles(ctx context.Context, query, appointmentID string) ([]PatientFile, error) {
	rows, err := s.db.Query(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("intake: list files: %w", err)
	}
	defer rows.Close()

	var files []PatientFile
	for rows.Next() {
		var (
			f              PatientFile
			consultationID pgtype.Text
			fileType       string
			mimeType       pgtype.Text
			size           pgtype.Int8
			processed      pgtype.Bool
		)
		if err := rows.Scan(&f.ID, &consultationID, &f.AppointmentID, &f.FileName, &f.FilePath, &fileType,
			&mimeType, &size, &processed, &f.ExtractedText, &f.ProcessingError, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("intake: scan file: %w", err)
		}
		f.ConsultationID = consultationID.String
		f.FileType = FileType(fileType)
		f.MIMEType = mimeType.String
		f.SizeBytes = size.Int64
		f.Processed = processed.Valid && processed.Bool
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intake: iterate files: %w", err)
	}
	return files, nil
}

func (s *PostgresStore) MarkFileProcessed(ctx context.Context, fileID, text string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE patient_files
		SET extracted_text = $2,
		    processed = true,
		    processing_error = NULL,
		    updated_at = now()
		WHERE id = $1
	`, fileID, text)
	if err != nil {
		return fmt.Errorf("intake: mark file processed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (s *PostgresStore) MarkFileFailed(ctx context.Context, fileID, reason string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE patient_files
		SET processed = false,
		    processing_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, fileID, reason)
	if err != nil {
		return fmt.Errorf("intake: mark file failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (s *PostgresStore) CountFiles(ctx context.Context, appointmentID string) (FileCounts, error) {
	var counts FileCounts
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE processed = true),
			COUNT(*) FILTER (WHERE processed IS NOT TRUE AND processing_error IS NOT NULL)
		FROM patient_files
		WHERE appointment_id = $1
	`, appointmentID).Scan(&counts.Total, &counts.Processed, &counts.Failed)
	if err != nil {
		return FileCounts{}, fmt.Errorf("intake: count files: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) GetConsultation(ctx context.Context, id string) (*Consultation, error) {
	var (
		c         Consultation
		formJSON  []byte
		voiceJSON []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, patient_id, form_data, voice_data
		FROM consultations
		WHERE id = $1
	`, id).Scan(&c.ID, &c.PatientID, &formJSON, &voiceJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationNotFound
		}
		return nil, fmt.Errorf("intake: get consultation: %w", err)
	}
	if c.FormData, err = decodeObject(formJSON); err != nil {
		return nil, fmt.Errorf("intake: decode form_data: %w", err)
	}
	if c.VoiceData, err = decodeObject(voiceJSON); err != nil {
		return nil, fmt.Errorf("intake: decode voice_data: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var (
		p      Patient
		dob    pgtype.Date
		text   [8]pgtype.Text
		height pgtype.Float8
		weight pgtype.Float8
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, gender, family_history,
		       smoking_status, alcohol_use, drug_use, allergies, height_cm, weight_kg
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &text[0], &text[1], &dob, &text[2], &text[3],
		&text[4], &text[5], &text[6], &text[7], &height, &weight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("intake: get patient: %w", err)
	}
	p.FirstName, p.LastName, p.Gender, p.FamilyHistory = text[0].String, text[1].String, text[2].String, text[3].String
	p.SmokingStatus, p.AlcoholUse, p.DrugUse, p.Allergies = text[4].String, text[5].String, text[6].String, text[7].String
	if dob.Valid {
		t := dob.Time
		p.DateOfBirth = &t
	}
	p.HeightCM = height.Float64
	p.WeightKG = weight.Float64
	return &p, nil
}

func (s *PostgresStore) InsertSummary(ctx context.Context, summary *ClinicalSummary) (bool, error) {
	if summary == nil {
		return false, errors.New("intake: summary cannot be nil")
	}
	payload, err := json.Marshal(summary.Payload)
	if err != nil {
		return false, fmt.Errorf("intake: encode summary: %w", err)
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	ct, err := s.db.Exec(ctx, `
		INSERT INTO clinical_summaries (
			id, consultation_id, patient_id, appointment_id,
			summary, processing_status, is_fallback, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (consultation_id) DO NOTHING
	`, summary.ID, summary.ConsultationID, summary.PatientID, nullString(summary.AppointmentID),
		payload, string(summary.ProcessingStatus), summary.Fallback, summary.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("intake: insert summary: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	existing, err := s.FindSummaryID(ctx, summary.ConsultationID)
	if err != nil {
		return false, err
	}
	if existing != "" {
		summary.ID = existing
	}
	return false, nil
}

func (s *PostgresStore) FindSummaryID(ctx context.Context, consultationID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		SELECT id
		FROM clinical_summaries
		WHERE consultation_id = $1
	`, consultationID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("intake: find summary: %w", err)
	}
	return id, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// isInvalidID reports a key that Postgres could not parse as a UUID. No row can
// match such a key.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
