package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/multifetch/internal/storage"
)

// OutcomeWriteRepository implements storage.OutcomeWriteRepository
// and stores batches and their outcomes in SQLite.
type OutcomeWriteRepository struct {
	db *sql.DB
}

func NewOutcomeWriteRepository(db *sql.DB) *OutcomeWriteRepository {
	return &OutcomeWriteRepository{db: db}
}

func (r *OutcomeWriteRepository) SaveBatch(batchID string, targets int) error {
	_, err := r.db.Exec(
		`INSERT INTO batches (id, status, targets, started_at) VALUES (?, ?, ?, ?)`,
		batchID, storage.BatchRunning, targets, time.Now().Format(time.RFC3339),
	)

	return err
}

func (r *OutcomeWriteRepository) SaveOutcome(rec storage.OutcomeRecord) error {
	finishedAt := rec.FinishedAt
	if finishedAt == "" {
		finishedAt = time.Now().Format(time.RFC3339)
	}

	_, err := r.db.Exec(
		`INSERT INTO outcomes (batch_id, url, destination, result, reason, status_code, bytes, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.URL, rec.Destination, rec.Result, rec.Reason, rec.StatusCode, rec.Bytes, finishedAt,
	)

	return err
}

// FinishBatch sets the final status of a running batch.
func (r *OutcomeWriteRepository) FinishBatch(batchID, status string) error {
	res, err := r.db.Exec(
		`UPDATE batches SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		status, time.Now().Format(time.RFC3339), batchID, storage.BatchRunning,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("running batch %s: %w", batchID, storage.ErrNotFound)
	}

	return nil
}
