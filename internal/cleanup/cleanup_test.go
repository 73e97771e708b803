package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/multifetch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAged creates path with a modification time age ago.
func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func finishedAgo(age time.Duration) string {
	return time.Now().Add(-age).Format(time.RFC3339)
}

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()

	writeAged(t, filepath.Join(dir, "old.bin"), 48*time.Hour)
	writeAged(t, filepath.Join(dir, "fresh.bin"), 0)
	writeAged(t, filepath.Join(dir, "unparsable.bin"), 0)

	records := []storage.OutcomeRecord{
		{Destination: "old.bin", FinishedAt: finishedAgo(48 * time.Hour)},
		{Destination: "fresh.bin", FinishedAt: finishedAgo(0)},
		{Destination: "unparsable.bin", FinishedAt: "yesterday"},
		{Destination: "gone.bin", FinishedAt: finishedAgo(48 * time.Hour)},
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, dir, 24*time.Hour))

	_, err := os.Stat(filepath.Join(dir, "old.bin"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dir, "fresh.bin"))
	assert.NoError(t, err)

	// Falls back to the modification time, which is recent.
	_, err = os.Stat(filepath.Join(dir, "unparsable.bin"))
	assert.NoError(t, err)
}

func TestDeleteExpiredFiles_RedownloadedDestinationIsKept(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, filepath.Join(dir, "a.bin"), 0)

	records := []storage.OutcomeRecord{
		{Destination: "a.bin", FinishedAt: finishedAgo(48 * time.Hour)},
		{Destination: "./a.bin", FinishedAt: finishedAgo(0)},
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, dir, 24*time.Hour))

	_, err := os.Stat(filepath.Join(dir, "a.bin"))
	assert.NoError(t, err)
}

func TestDeleteExpiredFiles_FileBeingRewrittenIsKept(t *testing.T) {
	dir := t.TempDir()

	// Only the old record exists while a new transfer is writing the file.
	writeAged(t, filepath.Join(dir, "a.bin"), 0)

	records := []storage.OutcomeRecord{
		{Destination: "a.bin", FinishedAt: finishedAgo(48 * time.Hour)},
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, dir, 24*time.Hour))

	_, err := os.Stat(filepath.Join(dir, "a.bin"))
	assert.NoError(t, err)
}

func TestDeleteExpiredFiles_AbsoluteDestination(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "abs.bin")
	writeAged(t, abs, time.Hour)

	records := []storage.OutcomeRecord{
		{Destination: abs, FinishedAt: finishedAgo(time.Hour)},
	}

	require.NoError(t, DeleteExpiredFiles(context.Background(), records, dir, time.Minute))

	_, err := os.Stat(abs)
	assert.True(t, os.IsNotExist(err))
}
