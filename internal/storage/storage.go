package storage

import "errors"

// ErrNotFound is returned when a batch does not exist.
var ErrNotFound = errors.New("not found")

// Batch statuses.
const (
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchAborted   = "aborted"
)

// BatchRecord represents a record of a download batch.
type BatchRecord struct {
	ID         string
	Status     string
	Targets    int
	StartedAt  string
	FinishedAt string
}

// OutcomeRecord represents the final outcome of one target of a batch.
type OutcomeRecord struct {
	BatchID     string
	URL         string
	Destination string
	Result      string
	Reason      string
	StatusCode  int
	Bytes       int64
	FinishedAt  string
}

type OutcomeReadRepository interface {
	GetBatch(batchID string) (BatchRecord, error)
	GetOutcomes(batchID string) ([]OutcomeRecord, error)
	GetSucceeded() ([]OutcomeRecord, error) // succeeded outcomes of every batch, for retention cleanup
}

type OutcomeWriteRepository interface {
	SaveBatch(batchID string, targets int) error
	SaveOutcome(rec OutcomeRecord) error
	FinishBatch(batchID, status string) error
}

type OutcomeRepository interface {
	OutcomeReadRepository
	OutcomeWriteRepository
}
