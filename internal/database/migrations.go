package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// migration is one forward-only schema change. Statements must be
// idempotent: a database bootstrapped from schema.sql already has them.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"query_records.provider", `ALTER TABLE query_records ADD COLUMN IF NOT EXISTS provider text`},
	{"podcast_records.target_language", `ALTER TABLE podcast_records ADD COLUMN IF NOT EXISTS target_language text`},
	{"word_frequency.count_index", `CREATE INDEX IF NOT EXISTS idx_word_frequency_count ON word_frequency (count DESC, last_queried_at DESC)`},
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name       text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`

// Migrate applies the migrations not yet recorded in schema_migrations.
// Each runs in its own transaction together with its bookkeeping row.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}

	pending := pendingMigrations(done)
	for i, m := range pending {
		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name)
			return err
		})
		if err != nil {
			return &MigrationError{Name: m.name, Remaining: pending[i:], err: err}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
	}
	if len(pending) > 0 {
		db.log.Info().Int("applied", len(pending)).Msg("schema up to date")
	}
	return nil
}

func pendingMigrations(applied map[string]bool) []migration {
	var out []migration
	for _, m := range migrations {
		if !applied[m.name] {
			out = append(out, m)
		}
	}
	return out
}

// MigrationError reports the failed migration and the statements an
// operator can run by hand to finish the upgrade.
type MigrationError struct {
	Name      string
	Remaining []migration
	err       error
}

func (e *MigrationError) Error() string {
	stmts := make([]string, len(e.Remaining))
	for i, m := range e.Remaining {
		stmts[i] = "  " + m.sql + ";"
	}
	return fmt.Sprintf("migration %s: %v (pending statements:\n%s)", e.Name, e.err, strings.Join(stmts, "\n"))
}

func (e *MigrationError) Unwrap() error { return e.err }
