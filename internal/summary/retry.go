package summary

import (
	"context"
	"time"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
)

// Decision is what a RetryPolicy does after a failed attempt.
type Decision int

const (
	Fail Decision = iota
	Retry
)

// ClassifyOverload retries only upstream-overloaded responses.
func ClassifyOverload(err error) Decision {
	if intake.IsOverloaded(err) {
		return Retry
	}
	return Fail
}

// RetryPolicy is a bounded retry with exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    func(error) Decision
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes 3 attempts starting at a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Classify:    ClassifyOverload,
		Sleep:       sleepContext,
	}
}

// Delay is the pause before retry n (1-based): base, 2×base, 4×base and so on.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay * time.Duration(1<<(n-1))
}

// Do runs fn until it succeeds, the classifier says Fail, or attempts run out.
// It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = ClassifyOverload
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if classify(err) != Retry || attempt == maxAttempts {
			return attempt, err
		}
		if sleepErr := sleep(ctx, p.Delay(attempt)); sleepErr != nil {
			return attempt, sleepErr
		}
	}
	return maxAttempts, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
