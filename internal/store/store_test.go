package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/namedb/internal/logger"
	"github.com/ledgerwatch/namedb/internal/store"
)

func TestCreateRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "namedb.sqlite")

	s, err := store.Create(path, logger.Discard())
	require.NoError(t, err)
	s.Close()

	_, err = store.Create(path, logger.Discard())
	require.Error(t, err)
}

func TestOpenRequiresExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.sqlite")

	_, err := store.Open(path, logger.Discard())
	require.Error(t, err)
}

func TestCreateAppliesSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "namedb.sqlite")

	s, err := store.Create(path, logger.Discard())
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"history", "preorders", "namespaces", "name_records", "schema_migrations"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "namedb.sqlite")

	s, err := store.Create(path, logger.Discard())
	require.NoError(t, err)
	s.Close()

	s2, err := store.Open(path, logger.Discard())
	require.NoError(t, err)
	defer s2.Close()

	var count int
	require.NoError(t, s2.DB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	require.Equal(t, 1, count)
}
