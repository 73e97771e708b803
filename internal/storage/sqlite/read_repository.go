package sqlite

import (
	"database/sql"
	"errors"

	"github.com/italolelis/multifetch/internal/storage"
)

type OutcomeReadRepository struct {
	db *sql.DB
}

func NewOutcomeReadRepository(dbConn *sql.DB) *OutcomeReadRepository {
	return &OutcomeReadRepository{db: dbConn}
}

func (r *OutcomeReadRepository) GetBatch(batchID string) (storage.BatchRecord, error) {
	var (
		record     storage.BatchRecord
		finishedAt sql.NullString
	)

	err := r.db.QueryRow(
		`SELECT id, status, targets, started_at, finished_at FROM batches WHERE id = ?`, batchID,
	).Scan(&record.ID, &record.Status, &record.Targets, &record.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.BatchRecord{}, storage.ErrNotFound
	}

	if err != nil {
		return storage.BatchRecord{}, err
	}

	record.FinishedAt = finishedAt.String

	return record, nil
}

func (r *OutcomeReadRepository) GetOutcomes(batchID string) ([]storage.OutcomeRecord, error) {
	return r.queryOutcomes(
		`SELECT batch_id, url, destination, result, reason, status_code, bytes, finished_at
		FROM outcomes
		WHERE batch_id = ?
		ORDER BY id`, batchID)
}

// GetSucceeded returns the succeeded outcomes of every batch.
func (r *OutcomeReadRepository) GetSucceeded() ([]storage.OutcomeRecord, error) {
	return r.queryOutcomes(
		`SELECT batch_id, url, destination, result, reason, status_code, bytes, finished_at
		FROM outcomes
		WHERE result = 'succeeded'
		ORDER BY id`)
}

func (r *OutcomeReadRepository) queryOutcomes(query string, args ...any) ([]storage.OutcomeRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []storage.OutcomeRecord

	for rows.Next() {
		var (
			record storage.OutcomeRecord
			reason sql.NullString
		)

		if err := rows.Scan(&record.BatchID, &record.URL, &record.Destination, &record.Result, &reason,
			&record.StatusCode, &record.Bytes, &record.FinishedAt); err != nil {
			return nil, err
		}

		record.Reason = reason.String
		outcomes = append(outcomes, record)
	}

	return outcomes, rows.Err()
}
