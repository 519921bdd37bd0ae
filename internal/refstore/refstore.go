// Package refstore is broker's Reference Store (spec.md §4.1): the
// durable record of which (integration, kind, name, revision) tuples
// have already been scanned and uploaded, plus each integration's last
// observed branch/tag import toggle state.
package refstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"   // bundles the sqlite3 library, no CGO required

	"github.com/fossas/broker/internal/refstore/migrations"
	"github.com/fossas/broker/internal/types"
)

// Kind re-exports types.Kind so callers that only touch the store don't
// need a second import for the constant names.
type Kind = types.Kind

const (
	KindBranch = types.KindBranch
	KindTag    = types.KindTag
)

// Store is the Reference Store. A single Store is shared by every
// Poller, Discovery pass, and Dispatcher in the process (spec.md §2:
// "Reference Store is shared (single writer abstraction, many
// readers)"). The underlying *sql.DB is limited to one open connection,
// so writes and reads alike run one at a time; reads do not run
// concurrently with each other.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies every pending migration. It refuses to start if a migration
// fails, per spec.md §4.1.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reference store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: one connection; readers and writers take turns on it

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open reference store: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	for _, m := range migrations.All() {
		if err := m.Apply(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasScanned reports whether (integration, kind, name, revision) has
// already been recorded as scanned-and-uploaded (spec.md invariant I1).
func (s *Store) HasScanned(ctx context.Context, integrationID string, kind Kind, name, revision string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM scan_records
		WHERE integration_id = ? AND kind = ? AND name = ? AND revision = ?
	`, integrationID, string(kind), name, revision).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has_scanned: %w", err)
	}
	return true, nil
}

// RecordScanned durably records a successful upload. It must be called
// only after the analysis service has acknowledged the upload
// (spec.md invariant I1).
func (s *Store) RecordScanned(ctx context.Context, integrationID string, kind Kind, name, revision string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_records (integration_id, kind, name, revision, scanned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (integration_id, kind, name, revision) DO UPDATE SET scanned_at = excluded.scanned_at
	`, integrationID, string(kind), name, revision, at.UTC())
	if err != nil {
		return fmt.Errorf("record_scanned: %w", err)
	}
	return nil
}

// ForgetKind removes every scan record for integrationID of the given
// kind. Used by Discovery's toggle reconciliation (spec.md §4.6) when an
// import flag flips from true to false.
func (s *Store) ForgetKind(ctx context.Context, integrationID string, kind Kind) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM scan_records WHERE integration_id = ? AND kind = ?
	`, integrationID, string(kind))
	if err != nil {
		return fmt.Errorf("forget_kind: %w", err)
	}
	return nil
}

// Toggles is the last-observed (import_branches, import_tags) pair for
// an integration.
type Toggles struct {
	ImportBranches bool
	ImportTags     bool
}

// PreviousToggles returns the last recorded toggle state for
// integrationID, and false if none has ever been recorded.
func (s *Store) PreviousToggles(ctx context.Context, integrationID string) (Toggles, bool, error) {
	var t Toggles
	err := s.db.QueryRowContext(ctx, `
		SELECT import_branches, import_tags FROM integration_toggle_states WHERE integration_id = ?
	`, integrationID).Scan(&t.ImportBranches, &t.ImportTags)
	if err == sql.ErrNoRows {
		return Toggles{}, false, nil
	}
	if err != nil {
		return Toggles{}, false, fmt.Errorf("previous_toggles: %w", err)
	}
	return t, true, nil
}

// SaveToggles records the current toggle state as the new "previous"
// state for the next poll cycle's reconciliation.
func (s *Store) SaveToggles(ctx context.Context, integrationID string, importBranches, importTags bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_toggle_states (integration_id, import_branches, import_tags)
		VALUES (?, ?, ?)
		ON CONFLICT (integration_id) DO UPDATE SET import_branches = excluded.import_branches, import_tags = excluded.import_tags
	`, integrationID, importBranches, importTags)
	if err != nil {
		return fmt.Errorf("save_toggles: %w", err)
	}
	return nil
}
