// Package dedupe implements the durable idempotency store: a set of seen
// external event fingerprints with a TTL, backed by SQLite at
// <vault>/artifacts/dedupe.db.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store wraps the dedupe database connection.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the dedupe database at dbPath and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create dedupe dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedupe database: %w", err)
	}

	// SQLite is single-writer by design. Keep a single shared connection so
	// concurrent callers are serialized by database/sql instead of fighting
	// for write locks across multiple underlying connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS seen_events (
			event_id      TEXT PRIMARY KEY,
			first_seen_ts TIMESTAMP NOT NULL,
			source        TEXT NOT NULL,
			external_id   TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create seen_events table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsDuplicate reports whether eventID has already been marked seen.
func (s *Store) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM seen_events WHERE event_id = ?", eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query seen_events: %w", err)
	}
	return true, nil
}

// MarkSeen records eventID. Marking an already-seen event is a no-op, so a
// retried handler cannot fail here.
func (s *Store) MarkSeen(ctx context.Context, eventID, source, externalID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_events (event_id, first_seen_ts, source, external_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, eventID, time.Now().UTC(), source, externalID)
	if err != nil {
		return fmt.Errorf("failed to mark event seen: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes fingerprints first seen before the cutoff and
// returns the number removed. Maintenance calls this with the configured
// TTL.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM seen_events WHERE first_seen_ts < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge seen_events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	// Reclaim file space after a large purge.
	if n > 0 {
		if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
			return n, nil // vacuum failure is not fatal
		}
	}
	return n, nil
}

// Count returns the number of stored fingerprints.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count seen_events: %w", err)
	}
	return n, nil
}
