package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records coordinated request ids that already ran, per stage, so
// redelivered notifications are acknowledged without running again.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if the request id already completed the given stage.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, stage, requestID string) (bool, error) {
	query := `SELECT 1 FROM processed_requests WHERE stage = $1 AND request_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, stage, requestID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts the request id for the stage, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, stage, requestID, appointmentID string) (bool, error) {
	query := `
		INSERT INTO processed_requests (stage, request_id, appointment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, stage, requestID, appointmentID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
