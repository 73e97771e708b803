package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/italolelis/multifetch/internal/storage"
	"github.com/italolelis/multifetch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *InstrumentedOutcomeRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var tel *telemetry.Telemetry

	return NewInstrumentedOutcomeRepository(db, tel)
}

func TestOutcomeRepository_BatchLifecycle(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.SaveBatch("b1", 2))

	batch, err := repo.GetBatch("b1")
	require.NoError(t, err)
	assert.Equal(t, storage.BatchRunning, batch.Status)
	assert.Equal(t, 2, batch.Targets)
	assert.Empty(t, batch.FinishedAt)

	require.NoError(t, repo.SaveOutcome(storage.OutcomeRecord{
		BatchID: "b1", URL: "http://example.com/a", Destination: "a.bin",
		Result: "succeeded", StatusCode: 200, Bytes: 42,
	}))
	require.NoError(t, repo.SaveOutcome(storage.OutcomeRecord{
		BatchID: "b1", URL: "http://example.com/b", Destination: "b.bin",
		Result: "failed", Reason: "http 404", StatusCode: 404,
	}))

	require.NoError(t, repo.FinishBatch("b1", storage.BatchCompleted))

	batch, err = repo.GetBatch("b1")
	require.NoError(t, err)
	assert.Equal(t, storage.BatchCompleted, batch.Status)
	assert.NotEmpty(t, batch.FinishedAt)

	outcomes, err := repo.GetOutcomes("b1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a.bin", outcomes[0].Destination)
	assert.Equal(t, int64(42), outcomes[0].Bytes)
	assert.Equal(t, "http 404", outcomes[1].Reason)
	assert.NotEmpty(t, outcomes[1].FinishedAt)

	succeeded, err := repo.GetSucceeded()
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "http://example.com/a", succeeded[0].URL)
}

func TestOutcomeRepository_NotFound(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetBatch("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, repo.FinishBatch("missing", storage.BatchCompleted), storage.ErrNotFound)

	outcomes, err := repo.GetOutcomes("missing")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestOutcomeRepository_FinishOnlyOnce(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.SaveBatch("b1", 0))
	require.NoError(t, repo.FinishBatch("b1", storage.BatchAborted))
	assert.ErrorIs(t, repo.FinishBatch("b1", storage.BatchCompleted), storage.ErrNotFound)

	batch, err := repo.GetBatch("b1")
	require.NoError(t, err)
	assert.Equal(t, storage.BatchAborted, batch.Status)
}
