package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/multifetch/internal/storage"
	"github.com/italolelis/multifetch/internal/telemetry"
)

// InstrumentedOutcomeRepository wraps OutcomeRepository with telemetry.
type InstrumentedOutcomeRepository struct {
	repo      *OutcomeRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedOutcomeRepository creates a new instrumented outcome repository.
func NewInstrumentedOutcomeRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedOutcomeRepository {
	return &InstrumentedOutcomeRepository{
		repo:      NewOutcomeRepository(dbConn),
		telemetry: tel,
	}
}

// GetBatch retrieves a batch with telemetry.
func (r *InstrumentedOutcomeRepository) GetBatch(batchID string) (storage.BatchRecord, error) {
	var result storage.BatchRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_batch", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetBatch(batchID)

		return err
	})

	return result, err
}

// GetOutcomes retrieves the outcomes of a batch with telemetry.
func (r *InstrumentedOutcomeRepository) GetOutcomes(batchID string) ([]storage.OutcomeRecord, error) {
	var result []storage.OutcomeRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_outcomes", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetOutcomes(batchID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetSucceeded retrieves every succeeded outcome with telemetry.
func (r *InstrumentedOutcomeRepository) GetSucceeded() ([]storage.OutcomeRecord, error) {
	var result []storage.OutcomeRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_succeeded", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetSucceeded()

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SaveBatch records a new batch with telemetry.
func (r *InstrumentedOutcomeRepository) SaveBatch(batchID string, targets int) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "save_batch", func(ctx context.Context) error {
		return r.repo.SaveBatch(batchID, targets)
	})
}

// SaveOutcome records an outcome with telemetry.
func (r *InstrumentedOutcomeRepository) SaveOutcome(rec storage.OutcomeRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "save_outcome", func(ctx context.Context) error {
		return r.repo.SaveOutcome(rec)
	})
}

// FinishBatch updates the batch status with telemetry.
func (r *InstrumentedOutcomeRepository) FinishBatch(batchID, status string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "finish_batch", func(ctx context.Context) error {
		return r.repo.FinishBatch(batchID, status)
	})
}
