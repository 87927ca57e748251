// Package annotations provides a small SQLite-backed key/value store for
// derived data attached to immutable objects — currently diff-count
// estimates. Because keys embed content-addressed tree ids, entries are
// valid forever and the store never invalidates.
package annotations

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is an annotation store over one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) an annotation store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("annotations: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS annotations (
			key        TEXT PRIMARY KEY,
			value      INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("annotations: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetEstimate looks up a cached estimate.
func (s *Store) GetEstimate(key string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRow("SELECT value FROM annotations WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("annotations: get %q: %w", key, err)
	}
	return v, true, nil
}

// PutEstimate stores an estimate. Re-putting an existing key keeps the
// original value; both were computed from the same immutable trees.
func (s *Store) PutEstimate(key string, count int64) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO annotations (key, value, created_at) VALUES (?, ?, ?)",
		key, count, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("annotations: put %q: %w", key, err)
	}
	return nil
}
