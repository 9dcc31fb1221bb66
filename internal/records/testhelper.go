package records

import (
	"path/filepath"
	"testing"
)

// OpenTestStore opens a records database in t.TempDir(), runs all pending
// migrations, and registers cleanup.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "records.sqlite")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewStore(db)
}
