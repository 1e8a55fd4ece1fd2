package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one versioned schema change applied inside a transaction.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// MigrationManager applies the trade schema migrations to a database/sql
// backend and records them in schema_migrations.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a migration manager with the built-in trade schema migrations.
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: tradeMigrations(),
	}
}

func (m *MigrationManager) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// MigrateToLatest applies every migration newer than the current version.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.run(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Info("schema migrated", "from_version", current, "migrations_run", applied)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version, 0 when none.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// LatestVersion returns the version of the newest known migration.
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

func (m *MigrationManager) run(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	insert := `INSERT INTO schema_migrations (version, description, applied_at, execution_time) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insert, migration.Version, migration.Description, start, time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Debug("migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

func tradeMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create trades table",
			Up: execAll(
				// No surrogate key: the appender writes every column positionally.
				`CREATE TABLE IF NOT EXISTS trades (
					pair VARCHAR NOT NULL,
					base VARCHAR NOT NULL,
					quote VARCHAR NOT NULL,
					price DOUBLE NOT NULL,
					volume DOUBLE NOT NULL,
					timestamp BIGINT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL
				)`,
			),
		},
		{
			Version:     2,
			Description: "Index trades by pair and timestamp",
			Up: execAll(
				"CREATE INDEX IF NOT EXISTS idx_trades_pair_timestamp ON trades (pair, timestamp)",
			),
		},
	}
}

func execAll(queries ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, query := range queries {
			if _, err := tx.ExecContext(ctx, query); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
		}
		return nil
	}
}
