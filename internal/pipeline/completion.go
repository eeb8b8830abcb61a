package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

const (
	defaultSettleAttempts = 3
	defaultSettleInterval = 500 * time.Millisecond
)

type fileCounter interface {
	CountFiles(ctx context.Context, appointmentID string) (intake.FileCounts, error)
}

// CompletionDetector decides whether an appointment's files have all been attempted.
type CompletionDetector struct {
	files    fileCounter
	attempts int
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewCompletionDetector builds a detector. Non-positive settle values fall back to 3 reads
// 500ms apart.
func NewCompletionDetector(files fileCounter, attempts int, interval time.Duration) *CompletionDetector {
	if files == nil {
		panic("pipeline: file repository cannot be nil")
	}
	if attempts <= 0 {
		attempts = defaultSettleAttempts
	}
	if interval <= 0 {
		interval = defaultSettleInterval
	}
	return &CompletionDetector{
		files:    files,
		attempts: attempts,
		interval: interval,
		sleep:    sleepContext,
	}
}

// AllSettled reports whether every linked file has been attempted. written is the number
// of outcomes the caller has just persisted; counts are re-read while they do not yet
// reflect those writes, and a single read suffices otherwise.
func (d *CompletionDetector) AllSettled(ctx context.Context, appointmentID string, written int) (bool, intake.FileCounts, error) {
	var counts intake.FileCounts
	for attempt := 1; ; attempt++ {
		var err error
		counts, err = d.files.CountFiles(ctx, appointmentID)
		if err != nil {
			return false, counts, fmt.Errorf("pipeline: count files: %w", err)
		}
		if counts.AllSettled() {
			return true, counts, nil
		}
		if counts.Settled() >= written || attempt >= d.attempts {
			return false, counts, nil
		}
		if err := d.sleep(ctx, d.interval); err != nil {
			return false, counts, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
