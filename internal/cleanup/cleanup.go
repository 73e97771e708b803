package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/multifetch/internal/logctx"
	"github.com/italolelis/multifetch/internal/storage"
)

// DeleteExpiredFiles deletes downloaded files older than keepDuration based on
// the recorded outcomes. Relative destinations are resolved against dir.
//
// A file is judged by the newest record for its path and by its own
// modification time, whichever is later. A destination downloaded again, or
// being written right now, is therefore kept.
func DeleteExpiredFiles(ctx context.Context, records []storage.OutcomeRecord, dir string, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range latestByPath(ctx, records, dir) {
		info, err := os.Stat(rec.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", rec.path, "err", err)

			return err
		}

		lastWritten := rec.finishedAt
		if info.ModTime().After(lastWritten) {
			lastWritten = info.ModTime()
		}

		if now.Sub(lastWritten) > keepDuration {
			if err := os.Remove(rec.path); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired file", "file", rec.path, "err", err)

				return err
			}

			logger.Info("deleted expired file", "file", rec.path, "url", rec.url)
		}
	}

	return nil
}

type tracked struct {
	path       string
	url        string
	finishedAt time.Time
}

// latestByPath keeps the newest record of every resolved path, in first-seen
// order. Records with an unparsable finish time count as the zero time.
func latestByPath(ctx context.Context, records []storage.OutcomeRecord, dir string) []tracked {
	logger := logctx.LoggerFromContext(ctx)

	var (
		out   []tracked
		index = make(map[string]int)
	)

	for _, rec := range records {
		filePath := rec.Destination
		if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(dir, filePath)
		}

		filePath = filepath.Clean(filePath)

		finishedAt, err := time.Parse(time.RFC3339, rec.FinishedAt)
		if err != nil {
			logger.Warn("failed to parse finish time, using file mod time", "file", filePath, "err", err)
		}

		if i, ok := index[filePath]; ok {
			if finishedAt.After(out[i].finishedAt) {
				out[i].finishedAt = finishedAt
				out[i].url = rec.URL
			}

			continue
		}

		index[filePath] = len(out)
		out = append(out, tracked{path: filePath, url: rec.URL, finishedAt: finishedAt})
	}

	return out
}
