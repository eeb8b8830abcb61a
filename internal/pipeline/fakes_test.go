package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/internal/compliance"
	"github.com/wolfman30/clinical-intake-pipeline/internal/extraction"
	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/internal/notify"
	"github.com/wolfman30/clinical-intake-pipeline/internal/runlog"
	"github.com/wolfman30/clinical-intake-pipeline/internal/summary"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

// fakeProcessor extracts against the memory store the way the real processor does:
// every unprocessed file is attempted and its outcome persisted.
type fakeProcessor struct {
	store      *intake.MemoryStore
	fail       map[string]string
	err        error
	panicMsg   string
	afterBatch func(pass int)
	entered    chan struct{}
	proceed    chan struct{}

	mu        sync.Mutex
	passes    int
	attempted []string
}

func (p *fakeProcessor) ProcessAppointment(ctx context.Context, appointmentID string, skip ...string) (extraction.BatchResult, error) {
	p.mu.Lock()
	p.passes++
	pass := p.passes
	p.mu.Unlock()

	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.proceed
	}
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.err != nil {
		return extraction.BatchResult{}, p.err
	}

	files, err := p.store.ListUnprocessedFiles(ctx, appointmentID)
	if err != nil {
		return extraction.BatchResult{}, err
	}
	skipped := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}
	var res extraction.BatchResult
	for _, f := range files {
		if skipped[f.ID] {
			continue
		}
		p.mu.Lock()
		p.attempted = append(p.attempted, f.ID)
		p.mu.Unlock()
		res.Total++
		outcome := extraction.FileOutcome{FileID: f.ID, FileName: f.FileName, FileType: f.FileType}
		if reason, ok := p.fail[f.ID]; ok {
			if err := p.store.MarkFileFailed(ctx, f.ID, reason); err != nil {
				return res, err
			}
			outcome.Error = reason
			res.Failed++
		} else {
			if err := p.store.MarkFileProcessed(ctx, f.ID, "text of "+f.FileName); err != nil {
				return res, err
			}
			outcome.OK = true
			res.Succeeded++
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	if p.afterBatch != nil {
		p.afterBatch(pass)
	}
	return res, nil
}

func (p *fakeProcessor) Attempted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.attempted...)
}

func (p *fakeProcessor) Passes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passes
}

// fakeGenerator owns the terminal status write like the real generator.
type fakeGenerator struct {
	store   *intake.MemoryStore
	outcome summary.Outcome
	err     error
	calls   atomic.Int32
}

func (g *fakeGenerator) Generate(ctx context.Context, appointmentID string) (summary.Outcome, error) {
	g.calls.Add(1)
	status, msg := intake.StatusCompleted, ""
	if g.err != nil {
		status, msg = intake.StatusFailed, g.err.Error()
	}
	_ = g.store.SetStatus(ctx, appointmentID, status, msg)
	return g.outcome, g.err
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAuditor) add(e string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *fakeAuditor) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func (a *fakeAuditor) LogLockConflict(ctx context.Context, appointmentID, requestID, stage string) error {
	return a.add("lock_conflict:" + stage)
}

func (a *fakeAuditor) LogFilesExtracted(ctx context.Context, appointmentID, requestID string, fileIDs []string, succeeded, failed int) error {
	return a.add(fmt.Sprintf("files_extracted:%d/%d", succeeded, len(fileIDs)))
}

func (a *fakeAuditor) LogSummaryPersisted(ctx context.Context, appointmentID, requestID, consultationID, summaryID, fallbackReason string, attempts int) error {
	if fallbackReason != "" {
		return a.add("summary_fallback")
	}
	return a.add("summary_persisted")
}

func (a *fakeAuditor) LogSummaryFailed(ctx context.Context, appointmentID, requestID, reason string) error {
	return a.add("summary_failed")
}

func (a *fakeAuditor) LogManualTrigger(ctx context.Context, eventType compliance.AuditEventType, appointmentID, actor string) error {
	return a.add(string(eventType) + ":" + actor)
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []notify.ReviewAlert
}

func (n *fakeNotifier) NotifyReviewNeeded(ctx context.Context, alert notify.ReviewAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *fakeDeduper) AlreadyProcessed(ctx context.Context, stage, requestID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.seen[stage+"/"+requestID], nil
}

func (d *fakeDeduper) MarkProcessed(ctx context.Context, stage, requestID, appointmentID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := stage + "/" + requestID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type fakeRuns struct {
	mu       sync.Mutex
	started  []runlog.RunRecord
	finished map[string]runlog.RunStatus
}

func (r *fakeRuns) Start(ctx context.Context, run *runlog.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, *run)
	return nil
}

func (r *fakeRuns) Finish(ctx context.Context, runID string, status runlog.RunStatus, result runlog.RunResult, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = make(map[string]runlog.RunStatus)
	}
	r.finished[runID] = status
	return nil
}

func seedAppointment(store *intake.MemoryStore, id string, status intake.ProcessingStatus, fileIDs ...string) {
	store.PutAppointment(intake.Appointment{
		ID:               id,
		ConsultationID:   "consult-" + id,
		PatientID:        "patient-" + id,
		ProcessingStatus: status,
	})
	for i, fid := range fileIDs {
		linkFile(store, id, fid, time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC))
	}
}

func linkFile(store *intake.MemoryStore, appointmentID, fileID string, created time.Time) {
	appt := appointmentID
	store.PutFile(intake.PatientFile{
		ID:             fileID,
		ConsultationID: "consult-" + appointmentID,
		AppointmentID:  &appt,
		FileName:       fileID + ".pdf",
		FilePath:       "uploads/" + fileID + ".pdf",
		FileType:       intake.FileTypeDocument,
		CreatedAt:      created,
	})
}

func newTestDetector(files fileCounter) *CompletionDetector {
	d := NewCompletionDetector(files, 3, time.Millisecond)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func newTestCoordinator(t *testing.T, store *intake.MemoryStore, proc BatchProcessor, gen SummaryGenerator, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	return NewCoordinator(store, proc, gen, newTestDetector(store), logging.Discard(), opts...)
}

func statusOf(t *testing.T, store *intake.MemoryStore, id string) intake.ProcessingStatus {
	t.Helper()
	appt, err := store.GetAppointment(context.Background(), id)
	if err != nil {
		t.Fatalf("get appointment %s: %v", id, err)
	}
	return appt.ProcessingStatus
}
