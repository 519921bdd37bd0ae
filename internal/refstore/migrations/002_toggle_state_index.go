package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateToggleStateIndex adds an index on scan_records(integration_id, kind)
// to make forget_kind's bulk delete (spec.md §4.1) cheap on large stores.
func MigrateToggleStateIndex(db *sql.DB) error {
	var indexName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master WHERE type='index' AND name='idx_scan_records_integration_kind'
	`).Scan(&indexName)
	if err == nil {
		return nil // already applied
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check index existence: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX idx_scan_records_integration_kind ON scan_records(integration_id, kind)
	`)
	if err != nil {
		return fmt.Errorf("create idx_scan_records_integration_kind: %w", err)
	}
	return nil
}
