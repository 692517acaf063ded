package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: vendors and snapshots
	`CREATE TABLE IF NOT EXISTS vendors (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		provider        TEXT NOT NULL,
		account_id      TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		credentials     TEXT NOT NULL DEFAULT '',
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_vendors_provider ON vendors(provider);

	CREATE TABLE IF NOT EXISTS billing_snapshots (
		id           TEXT PRIMARY KEY,
		vendor_id    TEXT NOT NULL,
		provider     TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end   TEXT NOT NULL,
		amount       TEXT NOT NULL DEFAULT '0',
		currency     TEXT NOT NULL DEFAULT 'USD',
		source       TEXT NOT NULL DEFAULT '',
		breakdown    TEXT NOT NULL DEFAULT '[]',
		raw          TEXT NOT NULL DEFAULT 'null',
		pulled_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_key
		ON billing_snapshots(vendor_id, provider, period_start, period_end);
	CREATE INDEX IF NOT EXISTS idx_snapshots_period ON billing_snapshots(period_start);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,

	// Migration 2: track in-place imports separately from pulls
	`ALTER TABLE billing_snapshots ADD COLUMN updated_at DATETIME;`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
