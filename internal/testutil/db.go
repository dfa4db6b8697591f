package testutil

import (
	"testing"

	"github.com/livinlefevreloca/relay/internal/db"
	"github.com/stretchr/testify/require"
)

// OpenTestDB opens a migrated in-memory sqlite store that is closed when
// the test ends.
func OpenTestDB(t testing.TB) *db.DB {
	t.Helper()
	store, err := db.Open(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Migrate()
	require.NoError(t, err)
	return store
}
