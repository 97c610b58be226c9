// Package databasetest provides migrated in-memory stores for tests.
package databasetest

import (
	"testing"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database"
	"github.com/stretchr/testify/require"
)

// NewStore returns a Store backed by a fresh, fully migrated in-memory
// SQLite database that is closed when the test ends.
func NewStore(t testing.TB) *database.Store {
	t.Helper()

	db, err := database.Initialize(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db))
	return database.NewStore(db)
}
