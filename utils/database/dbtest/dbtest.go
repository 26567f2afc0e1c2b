// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"gatekeeper/utils/database"

	"github.com/jmoiron/sqlx"
)

// Open creates a migrated database in the test's temp dir and closes it on cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := database.Init(context.Background(), filepath.Join(t.TempDir(), "gatekeeper_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
