package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nwbull/heritage/internal/database"
)

// newTestDB opens a migrated database backed by a temp file. A file is
// used rather than :memory: so every pooled connection sees the same
// database.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
