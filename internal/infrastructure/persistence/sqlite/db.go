// Package sqlite implements the single-file store for session history and
// check-in streaks. It serves the same contracts as the postgres package.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite handle.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path with foreign keys and
// WAL enabled, then applies pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	d := &DB{db}
	if err := d.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Ping checks the database handle.
func (d *DB) Ping(ctx context.Context) error {
	return d.PingContext(ctx)
}

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "create_session_history", `
		CREATE TABLE IF NOT EXISTS session_history (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			kind TEXT NOT NULL,
			mode TEXT NOT NULL CHECK (mode IN ('COUNT_UP', 'COUNT_DOWN')),
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			studied_ms INTEGER NOT NULL DEFAULT 0 CHECK (studied_ms >= 0),
			outcome TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_history_owner_ended ON session_history(owner, ended_at);
		CREATE INDEX IF NOT EXISTS idx_session_history_ended ON session_history(ended_at);
	`},
	{2, "create_streaks", `
		CREATE TABLE IF NOT EXISTS streaks (
			owner TEXT PRIMARY KEY,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			total_checkins INTEGER NOT NULL DEFAULT 0,
			last_checkin_at INTEGER,
			updated_at INTEGER NOT NULL
		);
	`},
}

// Migrate applies pending migrations recorded in schema_migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var n int
		if err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&n); err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if n > 0 {
			continue
		}

		if err := d.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (d *DB) apply(ctx context.Context, m migration) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Times are stored as Unix milliseconds so range comparisons stay numeric.

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
