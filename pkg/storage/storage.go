// Package storage keeps a local SQLite journal of submitted operations and
// small key/value session state.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite database
type Store struct {
	db *sql.DB
}

// NewStore creates a new storage instance
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}

	// Run migrations
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		signature TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK(kind IN ('create-counter', 'create-poll', 'register-candidate', 'vote')),
		payer TEXT NOT NULL,
		accounts TEXT NOT NULL,
		precondition INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK(status IN ('pending', 'confirmed', 'rejected', 'timed_out')),
		reason TEXT NOT NULL DEFAULT '',
		slot INTEGER NOT NULL DEFAULT 0,
		submitted_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
	CREATE INDEX IF NOT EXISTS idx_submissions_submitted ON submissions(submitted_at);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SetSyncState sets a sync state value
func (s *Store) SetSyncState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// GetSyncState gets a sync state value
func (s *Store) GetSyncState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteSyncState removes a sync state value
func (s *Store) DeleteSyncState(key string) error {
	_, err := s.db.Exec("DELETE FROM sync_state WHERE key = ?", key)
	return err
}
