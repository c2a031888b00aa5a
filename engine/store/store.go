// Package store is the embedded persistence layer: scouts, drafts, feeds and
// their entries, feedback, calibrations, and dedup fingerprints live in one
// SQLite file under the state directory. All cross-component mutations go
// through row-level transactions here; nothing above this package holds a
// database handle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrExists reports a uniqueness violation (scout name, feed url).
var ErrExists = errors.New("already exists")

// Store wraps the SQLite handle. Safe for concurrent use; writes serialise
// on a single connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, applies the schema,
// and runs pending migrations.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One writer connection keeps SQLite happy under WAL.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		return err
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scouts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT    NOT NULL UNIQUE,
	kind            TEXT    NOT NULL,
	config          TEXT    NOT NULL DEFAULT '{}',
	intent          TEXT    NOT NULL DEFAULT 'scouting',
	instruction     TEXT    NOT NULL DEFAULT '',
	platforms       TEXT    NOT NULL DEFAULT '[]',
	review_required INTEGER NOT NULL DEFAULT 1,
	cron            TEXT    NOT NULL DEFAULT '',
	last_fired      INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	scout_id    INTEGER NOT NULL REFERENCES scouts(id) ON DELETE CASCADE,
	content     TEXT    NOT NULL,
	platform    TEXT    NOT NULL DEFAULT 'notify-only',
	status      TEXT    NOT NULL DEFAULT 'pending_review',
	external_id TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	posted_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);

CREATE TABLE IF NOT EXISTS feeds (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	url           TEXT    NOT NULL UNIQUE,
	title         TEXT    NOT NULL DEFAULT '',
	scout_id      INTEGER NOT NULL DEFAULT 0,
	poll_interval INTEGER NOT NULL DEFAULT 0,
	last_polled   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id    INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	entry_id   TEXT    NOT NULL,
	title      TEXT    NOT NULL DEFAULT '',
	link       TEXT    NOT NULL DEFAULT '',
	published  INTEGER NOT NULL DEFAULT 0,
	author     TEXT    NOT NULL DEFAULT '',
	summary    TEXT    NOT NULL DEFAULT '',
	content    TEXT    NOT NULL DEFAULT '',
	categories TEXT    NOT NULL DEFAULT '[]',
	UNIQUE(feed_id, entry_id)
);

CREATE TABLE IF NOT EXISTS feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scout_id   INTEGER NOT NULL REFERENCES scouts(id) ON DELETE CASCADE,
	item_url   TEXT    NOT NULL DEFAULT '',
	action     TEXT    NOT NULL,
	comment    TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS calibrations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scout_id   INTEGER NOT NULL REFERENCES scouts(id) ON DELETE CASCADE,
	source_url TEXT    NOT NULL DEFAULT '',
	draft      TEXT    NOT NULL DEFAULT '',
	feedback   TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	hash       TEXT    NOT NULL UNIQUE,
	embedding  BLOB,
	provenance TEXT    NOT NULL DEFAULT 'retrieved',
	created_at INTEGER NOT NULL
);
`

// migrations are idempotent column-adds: columns that later binaries need on
// tables an earlier binary may have created. Each is applied only when the
// column is absent, so first boot of a newer binary upgrades in place.
var migrations = []struct {
	table, column, decl string
}{
	{"entries", "is_processed", "INTEGER NOT NULL DEFAULT 0"},
	{"entries", "processed_at", "INTEGER NOT NULL DEFAULT 0"},
	{"feeds", "auth", "TEXT NOT NULL DEFAULT '{}'"},
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		ok, err := s.hasColumn(m.table, m.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.decl)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: add %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("store: table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return false, fmt.Errorf("store: scan table_info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// withTx runs f inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
