package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status reports which migrations are applied.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_topics", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progress_and_ledger", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_engagement", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "streak_freeze_rearm", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: TOPICS AND CONTENT
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS topics (
    id UUID PRIMARY KEY,
    title VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    target_age SMALLINT NOT NULL,
    created_by VARCHAR(128) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'planning',
    status_rank SMALLINT NOT NULL DEFAULT 0,
    current_section INTEGER NOT NULL DEFAULT 0,
    total_sections INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_topic_status CHECK (status IN ('planning', 'in_progress', 'completed')),
    CONSTRAINT valid_current_section CHECK (current_section >= 0 AND current_section <= total_sections),
    CONSTRAINT valid_target_age CHECK (target_age BETWEEN 3 AND 14)
);

CREATE INDEX IF NOT EXISTS idx_topics_created_by ON topics(created_by);

CREATE TABLE IF NOT EXISTS topic_sections (
    topic_id UUID NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    section_index INTEGER NOT NULL,
    title VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    estimated_minutes INTEGER NOT NULL DEFAULT 3,

    PRIMARY KEY (topic_id, section_index)
);

-- Generated prose. Fallback content is never written here.
CREATE TABLE IF NOT EXISTS section_content (
    topic_id UUID NOT NULL,
    section_index INTEGER NOT NULL,
    body TEXT NOT NULL,
    facts JSONB NOT NULL DEFAULT '[]'::jsonb,
    image_ref TEXT NOT NULL DEFAULT '',
    word_count INTEGER NOT NULL DEFAULT 0,
    generated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (topic_id, section_index)
);

CREATE TABLE IF NOT EXISTS section_illustrations (
    topic_id UUID NOT NULL,
    section_index INTEGER NOT NULL,
    image_ref TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (topic_id, section_index)
);
`

const migration001Down = `
DROP TABLE IF EXISTS section_illustrations;
DROP TABLE IF EXISTS section_content;
DROP TABLE IF EXISTS topic_sections;
DROP TABLE IF EXISTS topics;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PROGRESS AND LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- One row per effective progress transition; the primary key makes each
-- transition happen at most once per child and topic.
CREATE TABLE IF NOT EXISTS progress_marks (
    child_id VARCHAR(128) NOT NULL,
    topic_id UUID NOT NULL,
    kind VARCHAR(20) NOT NULL,
    section_index INTEGER NOT NULL DEFAULT -1,
    marked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (child_id, topic_id, kind, section_index),
    CONSTRAINT valid_mark_kind CHECK (kind IN ('section', 'quiz', 'certificate'))
);

CREATE INDEX IF NOT EXISTS idx_progress_marks_child ON progress_marks(child_id, kind);

CREATE TABLE IF NOT EXISTS ledger_transactions (
    id UUID PRIMARY KEY,
    child_id VARCHAR(128) NOT NULL,
    amount BIGINT NOT NULL,
    reason VARCHAR(200) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT nonzero_amount CHECK (amount <> 0),
    CONSTRAINT nonempty_reason CHECK (reason <> '')
);

CREATE INDEX IF NOT EXISTS idx_ledger_child_created ON ledger_transactions(child_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_transactions(created_at);
`

const migration002Down = `
DROP TABLE IF EXISTS ledger_transactions;
DROP TABLE IF EXISTS progress_marks;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: STREAKS AND ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS streaks (
    child_id VARCHAR(128) PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0,
    best_count INTEGER NOT NULL DEFAULT 0,
    last_activity DATE,
    freeze_available BOOLEAN NOT NULL DEFAULT FALSE,
    freeze_used_today BOOLEAN NOT NULL DEFAULT FALSE,
    version BIGINT NOT NULL DEFAULT 1,

    CONSTRAINT valid_count CHECK (count >= 0)
);

CREATE TABLE IF NOT EXISTS achievements (
    child_id VARCHAR(128) NOT NULL,
    achievement_id VARCHAR(50) NOT NULL,
    earned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (child_id, achievement_id)
);
`

const migration003Down = `
DROP TABLE IF EXISTS achievements;
DROP TABLE IF EXISTS streaks;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: FREEZE RE-ARM COUNTDOWN
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
ALTER TABLE streaks ADD COLUMN IF NOT EXISTS freeze_rearm_in INTEGER NOT NULL DEFAULT 0;
`

const migration004Down = `
ALTER TABLE streaks DROP COLUMN IF EXISTS freeze_rearm_in;
`
