package summary

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/internal/aiservice"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []reply
	prompts []aiservice.Prompt
}

type reply struct {
	text string
	err  error
}

func (s *scriptedCompleter) CompleteText(_ context.Context, prompt aiservice.Prompt, _ aiservice.Settings) (aiservice.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.replies) == 0 {
		return aiservice.Completion{}, &intake.UpstreamOverloadedError{StatusCode: 503}
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return aiservice.Completion{Text: r.text}, r.err
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

var fixedNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func seedAppointment(store *intake.MemoryStore, form map[string]any) {
	dob := time.Date(1980, 6, 15, 0, 0, 0, 0, time.UTC)
	store.PutAppointment(intake.Appointment{ID: "appt-1", ConsultationID: "consult-1", PatientID: "patient-1", ProcessingStatus: intake.StatusProcessing})
	store.PutConsultation(intake.Consultation{ID: "consult-1", PatientID: "patient-1", FormData: form})
	store.PutPatient(intake.Patient{ID: "patient-1", FirstName: "Ana", DateOfBirth: &dob, Gender: "female", HeightCM: 165, WeightKG: 70, Allergies: "penicillin"})
}

func noSleepPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}
