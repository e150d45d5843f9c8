package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalDSN(t *testing.T) {
	mem := journalDSN(MemoryPath)
	assert.True(t, strings.HasPrefix(mem, "file::memory:?"))
	assert.Contains(t, mem, "busy_timeout%285000%29")
	assert.NotContains(t, mem, "journal_mode")

	file := journalDSN("/var/lib/blockgate/sessions.db")
	assert.True(t, strings.HasPrefix(file, "file:/var/lib/blockgate/sessions.db?"))
	assert.Contains(t, file, "journal_mode%28WAL%29")
}

func TestNewDatabaseFileUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	d, err := NewDatabase(path)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, path, d.Path())

	var mode string
	require.NoError(t, d.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var timeout int
	require.NoError(t, d.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, busyTimeoutMS, timeout)
}

func TestMemoryJournal(t *testing.T) {
	j, err := NewSessionJournal(MemoryPath)
	require.NoError(t, err)
	defer j.Close()

	stats, err := j.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	d, err := NewDatabase(MemoryPath)
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = d.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, d.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (2)")
		return err
	}))

	var n, sum int
	require.NoError(t, d.QueryRow("SELECT COUNT(*), COALESCE(SUM(v), 0) FROM t").Scan(&n, &sum))
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, sum)
}
