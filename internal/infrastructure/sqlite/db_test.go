package sqlite

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "runs.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	}
}

func TestNewDB_RunsMigrations(t *testing.T) {
	db := newTestDB(t)

	var tableName string
	err := db.conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='runs'",
	).Scan(&tableName)
	require.NoError(t, err, "runs table should exist after migrations")
	require.Equal(t, "runs", tableName)

	latest, err := LatestVersion()
	require.NoError(t, err)
	require.Equal(t, 2, latest)

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, latest, version)

	var index string
	err = db.conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_runs_state'",
	).Scan(&index)
	require.NoError(t, err, "second migration should have run")
}

func TestNewDB_AppliesOnlyNewerMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	db, err := NewDB(dbPath)
	require.NoError(t, err)

	// Roll the recorded version back as if only the first migration had run.
	_, err = db.conn.Exec("DROP INDEX idx_runs_state")
	require.NoError(t, err)
	_, err = db.conn.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, 2, version)

	var index string
	require.NoError(t, db.conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_runs_state'",
	).Scan(&index))
}

func TestMigrationSource_PairsUpAndDown(t *testing.T) {
	src, err := migrationSource()
	require.NoError(t, err)
	defer src.Close()

	v, err := src.First()
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
	for {
		up, name, err := src.ReadUp(v)
		require.NoError(t, err, "version %d", v)
		require.NotEmpty(t, name)
		_ = up.Close()

		down, _, err := src.ReadDown(v)
		require.NoError(t, err, "version %d", v)
		_ = down.Close()

		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		require.NoError(t, err)
		v = next
	}
	require.EqualValues(t, 2, v)
}

func TestNewDB_MigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	v1, err := db1.SchemaVersion()
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()
	v2, err := db2.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestNewDB_BackupOnReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	_, err = os.Stat(dbPath + ".bak")
	require.True(t, os.IsNotExist(err), "no backup for a fresh database")

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	info, err := os.Stat(dbPath + ".bak")
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestNewDB_Pragmas(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)
}

func TestDB_Close(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.Error(t, db.conn.Ping(), "ping should fail after Close")
}

func TestDB_Connection(t *testing.T) {
	db := newTestDB(t)

	conn := db.Connection()
	require.IsType(t, (*sql.DB)(nil), conn)
	require.NoError(t, conn.Ping())
}

func TestNewDB_InvalidPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-specific path test")
	}
	// A regular file cannot be a parent directory.
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))

	_, err := NewDB(filepath.Join(parent, "runs.db"))
	require.Error(t, err)
}
