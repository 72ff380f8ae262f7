package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "mirror.db"),
		Profile: ProfileMirror,
		Name:    "mirror",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesSchema(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Migrate())

	// Migrate is idempotent.
	require.NoError(t, db.Migrate())

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sessions', 'history_rows')`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHealthCheck(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Migrate())
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestGetStats(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Migrate())

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.MigrateWithSchema(`CREATE TABLE t (id INTEGER PRIMARY KEY)`))

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 0, count)
}
