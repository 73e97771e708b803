package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'running',
	targets INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS outcomes (
	id INTEGER PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(id),
	url TEXT NOT NULL,
	destination TEXT NOT NULL,
	result TEXT NOT NULL,
	reason TEXT,
	status_code INTEGER,
	bytes INTEGER,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS outcomes_batch_id ON outcomes(batch_id);
`

// InitDB opens the SQLite database at path and creates the batches and
// outcomes tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// The engine reports outcomes from a single goroutine; one connection
	// keeps SQLite from returning SQLITE_BUSY to the API handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
