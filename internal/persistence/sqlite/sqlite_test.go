// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesPragmas(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "wal.sqlite"),
		WithBusyTimeout(1500*time.Millisecond), WithMaxOpenConns(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode;").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var busy int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout;").Scan(&busy))
	assert.Equal(t, 1500, busy)
	assert.Equal(t, 2, db.Stats().MaxOpenConnections)
}

func TestOpenChecksExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.sqlite")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, data TEXT);")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, Check(context.Background(), path))
	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database file at all, not even close"), 0o600))

	_, err := Open(context.Background(), path)
	assert.ErrorIs(t, err, ErrCorrupt)
}
