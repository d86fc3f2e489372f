// Package persistence selects the storage backend and exposes its
// repositories behind the domain interfaces.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sparkquest/sparkquest-hub/config"
	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/streak"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/postgres"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/sqlite"
)

// Stores is the full set of repositories for one backend.
type Stores struct {
	Driver        string
	Topics        topic.Repository
	Content       topic.ContentStore
	Illustrations topic.IllustrationStore
	Progress      progress.Repository
	Ledger        ledger.Store
	Streaks       streak.Repository
	Snapshots     achievement.SnapshotStore

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the backend is reachable.
func (s *Stores) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the backend.
func (s *Stores) Close() error {
	return s.close()
}

// Open connects to the configured driver. Postgres migrations run here when
// cfg.MigrateOnStart is set; the SQLite schema is always applied on open.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", "path", cfg.SQLitePath)
		return FromSQLite(store), nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.URL
		pgCfg.MaxConns = cfg.MaxConns
		pgCfg.MinConns = cfg.MinConns
		if cfg.ConnMaxLifetime > 0 {
			pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}
		if cfg.ConnMaxIdleTime > 0 {
			pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
		}

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("database schema is up to date")
		}
		logger.Info("postgres pool connected", "max_conns", pgCfg.MaxConns)
		return FromPostgres(conn), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// FromSQLite exposes one SQLite store as every repository.
func FromSQLite(store *sqlite.Store) *Stores {
	return &Stores{
		Driver:        config.DriverSQLite,
		Topics:        store,
		Content:       store,
		Illustrations: store,
		Progress:      store,
		Ledger:        store,
		Streaks:       store.Streaks(),
		Snapshots:     store,
		ping:          store.Ping,
		close:         store.Close,
	}
}

// FromPostgres builds the repositories on a shared pool.
func FromPostgres(conn *postgres.Connection) *Stores {
	content := postgres.NewContentRepository(conn)
	return &Stores{
		Driver:        config.DriverPostgres,
		Topics:        postgres.NewTopicRepository(conn),
		Content:       content,
		Illustrations: content,
		Progress:      postgres.NewProgressRepository(conn),
		Ledger:        postgres.NewLedgerRepository(conn),
		Streaks:       postgres.NewStreakRepository(conn),
		Snapshots:     postgres.NewAchievementRepository(conn),
		ping:          conn.Ping,
		close: func() error {
			conn.Close()
			return nil
		},
	}
}
