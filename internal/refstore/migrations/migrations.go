// Package migrations holds broker's reference-store schema migrations,
// one function per ordered step, applied by internal/refstore at startup.
//
// Each migration checks whether its change is already present (via
// sqlite_master, the same check-then-apply style as
// the teacher corpus's storage migrations) before applying it, so a
// migration can run again against a partially-migrated database without
// double-applying. The engine refuses to start if any migration errors.
package migrations

import "database/sql"

// Migration is one ordered schema step.
type Migration struct {
	Version int
	Name    string
	Apply   func(*sql.DB) error
}

// All returns every migration in order. Version numbers are sequential
// and never reused; a new schema change is a new entry appended here.
func All() []Migration {
	return []Migration{
		{Version: 1, Name: "initial_schema", Apply: MigrateInitialSchema},
		{Version: 2, Name: "toggle_state_index", Apply: MigrateToggleStateIndex},
	}
}
