package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// 001_init.sql, 002_stats.sql
const scriptCount = 2

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun(t *testing.T) {
	db := openRaw(t)
	require.NoError(t, Run(db))

	version, err := Version(db)
	require.NoError(t, err)
	assert.Equal(t, scriptCount, version)

	for _, table := range []string{"messages", "scope_settings", "api_calls", "tool_calls", "_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := openRaw(t)
	require.NoError(t, Run(db))
	require.NoError(t, Run(db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count))
	assert.Equal(t, scriptCount, count)
}

func TestPending(t *testing.T) {
	db := openRaw(t)
	_, err := db.Exec("CREATE TABLE _migrations (version INTEGER PRIMARY KEY, name TEXT, applied_at DATETIME)")
	require.NoError(t, err)

	pending, err := Pending(db)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pending)

	version, err := Version(db)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, Run(db))
	pending, err = Pending(db)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
