package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStorage(Config{Type: "sqlite", ConnectionString: dbPath})
	require.NoError(t, err)
	defer s.Close()

	runStorageSuite(t, s)
}

func TestSQLiteStorage_ReopenKeepsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStorage(Config{ConnectionString: dbPath})
	require.NoError(t, err)
	runStorageSuite(t, s)
	require.NoError(t, s.Close())

	// The schema statements are idempotent.
	s, err = NewSQLiteStorage(Config{ConnectionString: dbPath})
	require.NoError(t, err)
	defer s.Close()
	runStorageSuite(t, s)
}

func TestSQLiteStorageErrors(t *testing.T) {
	_, err := NewSQLiteStorage(Config{ConnectionString: ""})
	assert.Error(t, err)
}
