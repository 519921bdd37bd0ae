package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateInitialSchema creates the scan_records and integration_toggle_states
// tables described in spec.md §3/§4.1.
func MigrateInitialSchema(db *sql.DB) error {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master WHERE type='table' AND name='scan_records'
	`).Scan(&tableName)
	if err == nil {
		return nil // already applied
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check scan_records existence: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE scan_records (
			integration_id TEXT NOT NULL,
			kind           TEXT NOT NULL CHECK (kind IN ('branch', 'tag')),
			name           TEXT NOT NULL,
			revision       TEXT NOT NULL,
			scanned_at     TIMESTAMP NOT NULL,
			PRIMARY KEY (integration_id, kind, name, revision)
		)
	`)
	if err != nil {
		return fmt.Errorf("create scan_records: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE integration_toggle_states (
			integration_id  TEXT NOT NULL PRIMARY KEY,
			import_branches BOOLEAN NOT NULL,
			import_tags     BOOLEAN NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create integration_toggle_states: %w", err)
	}

	return nil
}
