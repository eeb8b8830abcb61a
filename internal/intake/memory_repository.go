package intake

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for local runs and tests. Its compare-and-set
// is atomic under the mutex, matching the single-row conditional update in Postgres.
type MemoryStore struct {
	mu            sync.Mutex
	appointments  map[string]*Appointment
	consultations map[string]*Consultation
	patients      map[string]*Patient
	files         map[string]*PatientFile
	summaries     map[string]*ClinicalSummary
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments:  make(map[string]*Appointment),
		consultations: make(map[string]*Consultation),
		patients:      make(map[string]*Patient),
		files:         make(map[string]*PatientFile),
		summaries:     make(map[string]*ClinicalSummary),
	}
}

// PutAppointment seeds or replaces an appointment.
func (s *MemoryStore) PutAppointment(a Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	s.appointments[a.ID] = &a
}

// PutConsultation seeds or replaces a consultation.
func (s *MemoryStore) PutConsultation(c Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consultations[c.ID] = &c
}

// PutPatient seeds or replaces a patient.
func (s *MemoryStore) PutPatient(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = &p
}

// PutFile seeds or replaces a patient file.
func (s *MemoryStore) PutFile(f PatientFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.files[f.ID] = &f
}

// File returns a copy of a stored file.
func (s *MemoryStore) File(id string) (PatientFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return PatientFile{}, false
	}
	return *f, true
}

// Summaries returns copies of every stored summary.
func (s *MemoryStore) Summaries() []ClinicalSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClinicalSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id string, from []ProcessingStatus, to ProcessingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if a.ProcessingStatus == st {
			a.ProcessingStatus = to
			a.ErrorMessage = ""
			a.UpdatedAt = time.Now().UTC()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, to ProcessingStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.ProcessingStatus = to
	a.ErrorMessage = errMsg
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListUnprocessedFiles(_ context.Context, appointmentID string) ([]PatientFile, error) {
	return s.filter(appointmentID, func(f *PatientFile) bool { return !f.Processed }), nil
}

func (s *MemoryStore) ListAppointmentFiles(_ context.Context, appointmentID string) ([]PatientFile, error) {
	return s.filter(appointmentID, func(*PatientFile) bool { return true }), nil
}

func (s *MemoryStore) filter(appointmentID string, keep func(*PatientFile) bool) []PatientFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PatientFile
	for _, f := range s.files {
		if f.AppointmentID == nil || *f.AppointmentID != appointmentID || !keep(f) {
			continue
		}
		out = append(out, *f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) MarkFileProcessed(_ context.Context, fileID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return ErrFileNotFound
	}
	f.ExtractedText = &text
	f.Processed = true
	f.ProcessingError = nil
	return nil
}

func (s *MemoryStore) MarkFileFailed(_ context.Context, fileID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return ErrFileNotFound
	}
	f.Processed = false
	f.ProcessingError = &reason
	return nil
}

func (s *MemoryStore) CountFiles(_ context.Context, appointmentID string) (FileCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts FileCounts
	for _, f := range s.files {
		if f.AppointmentID == nil || *f.AppointmentID != appointmentID {
			continue
		}
		counts.Total++
		switch {
		case f.Processed:
			counts.Processed++
		case f.ProcessingError != nil:
			counts.Failed++
		}
	}
	return counts, nil
}

func (s *MemoryStore) GetConsultation(_ context.Context, id string) (*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[id]
	if !ok {
		return nil, ErrConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetPatient(_ context.Context, id string) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) InsertSummary(_ context.Context, summary *ClinicalSummary) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.summaries[summary.ConsultationID]; ok {
		summary.ID = existing.ID
		return false, nil
	}
	cp := *summary
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.summaries[summary.ConsultationID] = &cp
	return true, nil
}

func (s *MemoryStore) FindSummaryID(_ context.Context, consultationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.summaries[consultationID]; ok {
		return existing.ID, nil
	}
	return "", nil
}
