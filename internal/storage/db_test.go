package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithOptions_AppliesSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pb.db")
	db, err := OpenWithOptions(path, Options{MaxOpenConns: 4, JournalMode: "WAL"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 4, db.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Defaults(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()

	// One connection by default; sqlite allows a single writer anyway and
	// the in-memory database exists per connection.
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	var fk int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}
