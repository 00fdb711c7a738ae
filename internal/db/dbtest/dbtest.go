// Package dbtest provides an in-memory database for tests of packages that
// sit on top of the repositories.
package dbtest

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/foxzi/prospector/internal/db"
)

// Open returns an in-memory SQLite database with all migrations applied
func Open(t testing.TB) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// :memory: databases are per connection
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	for _, m := range db.Migrations() {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("failed to apply migration: %v", err)
		}
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}
