// Package ledger implements the per-entity sync ledger: for each
// (entity_id, remote_source) pair it records the last observed remote
// version and whether the last write originated locally or remotely.
// Sync adapters consult it to break echoes and resolve conflicts.
// Backed by SQLite at <vault>/artifacts/sync_ledger.db.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Origin marks which side performed the last recorded write.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Entry is one ledger row.
type Entry struct {
	EntityID      string
	RemoteSource  string
	RemoteVersion string
	RemoteETag    string
	LastWriteTS   time.Time
	Origin        Origin
}

// Ledger wraps the sync ledger database.
type Ledger struct {
	db *sql.DB
}

// Open creates (or reuses) the ledger database at dbPath.
func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_ledger (
			entity_id      TEXT NOT NULL,
			remote_source  TEXT NOT NULL,
			remote_version TEXT NOT NULL,
			remote_etag    TEXT NOT NULL DEFAULT '',
			last_write_ts  TIMESTAMP NOT NULL,
			origin         TEXT NOT NULL CHECK (origin IN ('local', 'remote')),
			PRIMARY KEY (entity_id, remote_source)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sync_ledger table: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the ledger entry for (entityID, remoteSource), or nil when
// the pair has never been recorded.
func (l *Ledger) Get(ctx context.Context, entityID, remoteSource string) (*Entry, error) {
	e := &Entry{}
	err := l.db.QueryRowContext(ctx, `
		SELECT entity_id, remote_source, remote_version, remote_etag, last_write_ts, origin
		FROM sync_ledger
		WHERE entity_id = ? AND remote_source = ?
	`, entityID, remoteSource).Scan(
		&e.EntityID, &e.RemoteSource, &e.RemoteVersion, &e.RemoteETag, &e.LastWriteTS, &e.Origin,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync ledger: %w", err)
	}
	return e, nil
}

// RecordLocalWrite upserts the entry after a local mutation was pushed to
// the remote under the given version.
func (l *Ledger) RecordLocalWrite(ctx context.Context, entityID, remoteSource, remoteVersion, etag string, ts time.Time) error {
	return l.record(ctx, entityID, remoteSource, remoteVersion, etag, ts, OriginLocal)
}

// RecordRemoteWrite upserts the entry after a remote update was imported.
func (l *Ledger) RecordRemoteWrite(ctx context.Context, entityID, remoteSource, remoteVersion, etag string, ts time.Time) error {
	return l.record(ctx, entityID, remoteSource, remoteVersion, etag, ts, OriginRemote)
}

func (l *Ledger) record(ctx context.Context, entityID, remoteSource, remoteVersion, etag string, ts time.Time, origin Origin) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_ledger (entity_id, remote_source, remote_version, remote_etag, last_write_ts, origin)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, remote_source) DO UPDATE SET
			remote_version = excluded.remote_version,
			remote_etag    = excluded.remote_etag,
			last_write_ts  = excluded.last_write_ts,
			origin         = excluded.origin
	`, entityID, remoteSource, remoteVersion, etag, ts.UTC(), origin)
	if err != nil {
		return fmt.Errorf("failed to record sync ledger entry: %w", err)
	}
	return nil
}

// ShouldImportRemoteUpdate decides whether an incoming remote update is new
// information. It returns false when the incoming version equals the last
// recorded remote version and the last write was local: that update is our
// own write echoed back by the remote.
func ShouldImportRemoteUpdate(entry *Entry, incomingVersion string, incomingTS time.Time) bool {
	if entry == nil {
		return true
	}
	if incomingVersion == entry.RemoteVersion && entry.Origin == OriginLocal {
		return false // echo-break
	}
	return true
}

// Winner identifies the side that wins a conflict.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// ResolveConflict is last-write-wins on the write timestamps; ties break to
// local.
func ResolveConflict(localTS, remoteTS time.Time) Winner {
	if remoteTS.After(localTS) {
		return WinnerRemote
	}
	return WinnerLocal
}
