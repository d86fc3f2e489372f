// Package sqlite implements the learning core's stores on an embedded SQLite
// database. It backs single-node deployments and the application tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// timeLayout is fixed-width UTC so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Schema is applied on every Open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS topics (
    id              TEXT PRIMARY KEY,
    title           TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    target_age      INTEGER NOT NULL,
    created_by      TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'planning',
    status_rank     INTEGER NOT NULL DEFAULT 0,
    current_section INTEGER NOT NULL DEFAULT 0,
    total_sections  INTEGER NOT NULL,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    CHECK (current_section >= 0 AND current_section <= total_sections)
);

CREATE TABLE IF NOT EXISTS topic_sections (
    topic_id          TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    section_index     INTEGER NOT NULL,
    title             TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    estimated_minutes INTEGER NOT NULL DEFAULT 3,
    PRIMARY KEY (topic_id, section_index)
);

CREATE TABLE IF NOT EXISTS section_content (
    topic_id      TEXT NOT NULL,
    section_index INTEGER NOT NULL,
    body          TEXT NOT NULL,
    facts         TEXT NOT NULL DEFAULT '[]',
    image_ref     TEXT NOT NULL DEFAULT '',
    word_count    INTEGER NOT NULL DEFAULT 0,
    generated_at  TEXT NOT NULL,
    PRIMARY KEY (topic_id, section_index)
);

CREATE TABLE IF NOT EXISTS section_illustrations (
    topic_id      TEXT NOT NULL,
    section_index INTEGER NOT NULL,
    image_ref     TEXT NOT NULL,
    created_at    TEXT NOT NULL,
    PRIMARY KEY (topic_id, section_index)
);

CREATE TABLE IF NOT EXISTS progress_marks (
    child_id      TEXT NOT NULL,
    topic_id      TEXT NOT NULL,
    kind          TEXT NOT NULL,
    section_index INTEGER NOT NULL DEFAULT -1,
    marked_at     TEXT NOT NULL,
    PRIMARY KEY (child_id, topic_id, kind, section_index)
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
    id         TEXT PRIMARY KEY,
    child_id   TEXT NOT NULL,
    amount     INTEGER NOT NULL CHECK (amount <> 0),
    reason     TEXT NOT NULL CHECK (reason <> ''),
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_child_created ON ledger_transactions(child_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_transactions(created_at);

CREATE TABLE IF NOT EXISTS streaks (
    child_id          TEXT PRIMARY KEY,
    count             INTEGER NOT NULL DEFAULT 0,
    best_count        INTEGER NOT NULL DEFAULT 0,
    last_activity     TEXT NOT NULL DEFAULT '',
    freeze_available  INTEGER NOT NULL DEFAULT 0,
    freeze_used_today INTEGER NOT NULL DEFAULT 0,
    freeze_rearm_in   INTEGER NOT NULL DEFAULT 0,
    version           INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS achievements (
    child_id       TEXT NOT NULL,
    achievement_id TEXT NOT NULL,
    earned_at      TEXT NOT NULL,
    PRIMARY KEY (child_id, achievement_id)
);
`

// Store implements every core repository on one database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps put-if-absent races inside SQLite's own locking.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// storeErr wraps driver errors as persistence failures and passes domain
// errors through untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.Persistence("sqlite", op, err)
}
