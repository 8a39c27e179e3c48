package database

import (
	"testing"
)

// setupTestDB opens an isolated in-memory SQLite database with the full
// schema applied.
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	db, err := NewDB(Config{
		Type:       "sqlite",
		SQLitePath: "file:" + t.Name() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// A single shared-cache connection keeps the in-memory database alive
	// and serializes access across the pool.
	db.conn.SetMaxOpenConns(1)

	cleanup := func() {
		db.Close()
	}

	return db, cleanup
}
