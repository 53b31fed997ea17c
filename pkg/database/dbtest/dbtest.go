// Package dbtest opens migrated throwaway databases for tests.
package dbtest

import (
	"testing"

	"mangasync/pkg/database"
)

// New returns a migrated in-memory SQLite database closed at test cleanup.
func New(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.Open(database.MemoryConfig())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
