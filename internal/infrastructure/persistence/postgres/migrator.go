package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps every schema migration failure.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// migrationLockKey serialises concurrent migrators started by several
// replicas against one database.
const migrationLockKey = 7_340_001

// Migration is one versioned schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies the built-in migrations, recording them in
// schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over GetMigrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

func (m *Migrator) appliedVersions(ctx context.Context, q Querier) ([]int, error) {
	rows, err := q.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// Migrate applies every pending migration in one transaction under an
// advisory lock, so a failed step leaves the schema untouched.
func (m *Migrator) Migrate(ctx context.Context) error {
	err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createMigrationsTable); err != nil {
			return err
		}
		applied, err := m.appliedVersions(ctx, tx)
		if err != nil {
			return err
		}

		for _, mig := range m.migrations {
			if slices.Contains(applied, mig.Version) {
				continue
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("version %d %s: %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.Version, mig.Name,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return nil
}

// Rollback reverts the most recently applied migration. No-op on an empty
// schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, createMigrationsTable); err != nil {
			return err
		}
		applied, err := m.appliedVersions(ctx, tx)
		if err != nil || len(applied) == 0 {
			return err
		}

		last := applied[len(applied)-1]
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == last })
		if idx < 0 || m.migrations[idx].DownSQL == "" {
			return fmt.Errorf("no down migration for version %d", last)
		}
		if _, err := tx.Exec(ctx, m.migrations[idx].DownSQL); err != nil {
			return fmt.Errorf("version %d: %w", last, err)
		}
		_, err = tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, last)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return nil
}
