// Package store persists events, mapping rules, ignore entries and the
// household registry in sqlite. All engine writes go through InTx so a rule
// upsert and its relabel pass commit as one unit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/hearthhq/hearth/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS homes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS children (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_sources (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL REFERENCES children(id),
	name TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	is_primary BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL,
	calendar_source_id TEXT NOT NULL REFERENCES calendar_sources(id),
	child_id TEXT NOT NULL,
	title TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	assigned_home_id TEXT,
	classification TEXT NOT NULL DEFAULT 'unclassified',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (calendar_source_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_events_source_classification
	ON events (calendar_source_id, classification);

CREATE TABLE IF NOT EXISTS mapping_rules (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL,
	calendar_source_id TEXT NOT NULL,
	match_type TEXT NOT NULL,
	match_value TEXT NOT NULL,
	home_id TEXT NOT NULL,
	auto_confirm BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	UNIQUE (child_id, calendar_source_id, match_type, match_value)
);

CREATE TABLE IF NOT EXISTS ignore_entries (
	id TEXT PRIMARY KEY,
	child_id TEXT NOT NULL,
	calendar_source_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (child_id, calendar_source_id, title)
);
`

// queries carries every data-access method once; Store runs them on the
// connection pool, Tx runs them inside a transaction.
type queries struct {
	q sqlx.ExtContext
}

type Store struct {
	db *sqlx.DB
	queries
}

type Tx struct {
	queries
}

// Open opens (or creates) the sqlite database at path and runs migrations.
// Transactions take the write lock up front (_txlock=immediate) so writers
// for the same scope serialize instead of failing mid-transaction.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Store{db: db}
	s.queries.q = db
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// InTx runs fn inside one transaction, rolling back on error or panic.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Tx{queries{q: tx}}); err != nil {
		_ = tx.Rollback()
		return translateBusy(err)
	}
	if err := tx.Commit(); err != nil {
		return translateBusy(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// translateBusy surfaces sqlite lock contention as a domain conflict so
// callers can retry the whole unit of work against the committed state.
func translateBusy(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}
