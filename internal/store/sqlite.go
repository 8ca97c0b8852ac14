// Package store persists the experiment catalog in SQLite.
//
// Each experiment aggregate (the experiment, its streams, files and
// variables) is written in one transaction, so readers only ever see complete
// aggregates. The schema is plain SQL so the catalog can also be queried with
// the sqlite3 shell.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// schema contains the DDL executed on every open. Using IF NOT EXISTS makes
// it safe to run on every startup.
//
// variable_fts is an external-content FTS5 index over variable. The triggers
// keep it in step with the base table; an update is a delete of the old terms
// followed by an insert of the new ones.
const schema = `
CREATE TABLE IF NOT EXISTS experiment (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    type TEXT NOT NULL,
    UNIQUE(type, path)
);

CREATE TABLE IF NOT EXISTS stream (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    experiment_id         INTEGER NOT NULL REFERENCES experiment(id),
    name                  TEXT NOT NULL,
    last_variable_refresh TEXT,
    UNIQUE(experiment_id, name)
);

CREATE TABLE IF NOT EXISTS file (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_id     INTEGER NOT NULL REFERENCES stream(id),
    experiment_id INTEGER NOT NULL REFERENCES experiment(id),
    relative_path TEXT NOT NULL,
    start_time    TEXT,
    end_time      TEXT,
    kind          TEXT NOT NULL,
    last_seen     TEXT,
    UNIQUE(stream_id, relative_path)
);

CREATE TABLE IF NOT EXISTS variable (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_id       INTEGER NOT NULL REFERENCES stream(id),
    name            TEXT NOT NULL,
    long_name       TEXT,
    standard_name   TEXT,
    method          TEXT,
    time_resolution TEXT,
    lat_resolution  TEXT,
    lon_resolution  TEXT,
    units           TEXT
);

CREATE INDEX IF NOT EXISTS idx_file_start ON file(stream_id, start_time);
CREATE INDEX IF NOT EXISTS idx_variable_stream ON variable(stream_id);
CREATE INDEX IF NOT EXISTS idx_variable_name ON variable(name);
CREATE INDEX IF NOT EXISTS idx_variable_standard_name ON variable(standard_name);

CREATE VIRTUAL TABLE IF NOT EXISTS variable_fts USING fts5(
    name,
    long_name,
    standard_name,
    tokenize = 'porter',
    content = 'variable',
    content_rowid = 'id'
);

CREATE TRIGGER IF NOT EXISTS variable_fts_ai AFTER INSERT ON variable BEGIN
    INSERT INTO variable_fts (rowid, name, long_name, standard_name)
        VALUES (new.id, new.name, new.long_name, new.standard_name);
END;

CREATE TRIGGER IF NOT EXISTS variable_fts_ad AFTER DELETE ON variable BEGIN
    INSERT INTO variable_fts (variable_fts, rowid, name, long_name, standard_name)
        VALUES ('delete', old.id, old.name, old.long_name, old.standard_name);
END;

CREATE TRIGGER IF NOT EXISTS variable_fts_au AFTER UPDATE ON variable BEGIN
    INSERT INTO variable_fts (variable_fts, rowid, name, long_name, standard_name)
        VALUES ('delete', old.id, old.name, old.long_name, old.standard_name);
    INSERT INTO variable_fts (rowid, name, long_name, standard_name)
        VALUES (new.id, new.name, new.long_name, new.standard_name);
END;
`

const (
	defaultRetries    = 5
	defaultRetryDelay = 50 * time.Millisecond
)

// SQLiteStore is the catalog store backed by a local SQLite database in WAL
// mode.
type SQLiteStore struct {
	db *sql.DB

	retries    uint64
	retryDelay time.Duration
}

// Open opens (or creates) the catalog database at dbPath, enables WAL mode
// and a busy timeout, and creates the schema if it does not exist.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite has a single writer; one pooled connection avoids SQLITE_BUSY
	// between connections of this process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, retries: defaultRetries, retryDelay: defaultRetryDelay}
}

// DB exposes the underlying handle for read-only query layers.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retry runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent.
func (s *SQLiteStore) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), s.retries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// isRetryable reports whether err is a uniqueness conflict or a lock timeout,
// both of which resolve by re-reading and trying again.
func isRetryable(err error) bool {
	return isUniqueViolation(err) || isBusy(err)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_BUSY || se.Code()&0xff == sqlite3.SQLITE_LOCKED
	}
	return false
}

// storedTimeLayout is fixed width so stored timestamps compare correctly as
// text (MAX, ORDER BY).
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders timestamps stored by the catalog. The zero time is stored
// as NULL.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(storedTimeLayout)
}

// timestampFormats lists the formats accepted when reading stored
// timestamps.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
}

// parseTimestamp parses a stored timestamp; NULL becomes the zero time.
func parseTimestamp(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s.String)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
