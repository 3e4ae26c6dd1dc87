//go:build itest && !test_db_postgres

package itest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aurawallet/walletcore/wstore"
)

// NewTestStore creates a migrated sqlite-backed store. Each test gets
// its own temporary database file.
func NewTestStore(t *testing.T) *wstore.Store {
	t.Helper()

	store, err := wstore.OpenSQLite(&wstore.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err, "failed to open sqlite store")

	return store
}
