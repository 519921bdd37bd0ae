package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsApplyTwiceWithoutError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, m := range All() {
		require.NoError(t, m.Apply(db), m.Name)
	}
	// Re-applying every migration against an already-migrated database
	// must be a no-op, not an error (check-then-apply, spec.md §4.1).
	for _, m := range All() {
		assert.NoError(t, m.Apply(db), m.Name)
	}
}

func TestVersionsAreSequential(t *testing.T) {
	for i, m := range All() {
		assert.Equal(t, i+1, m.Version, m.Name)
	}
}
