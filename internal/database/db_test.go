package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConnectionString_SetsBusyTimeout(t *testing.T) {
	for _, profile := range []Profile{ProfileHistory, ProfileResults} {
		connStr := connectionString("/tmp/test.db", profile)
		assert.Contains(t, connStr, "_pragma=busy_timeout(5000)",
			"profile %s must queue on the write lock", profile)
		assert.Contains(t, connStr, "_pragma=journal_mode(WAL)")
	}
}

func TestConnectionString_Profiles(t *testing.T) {
	results := connectionString("/tmp/test.db", ProfileResults)
	assert.Contains(t, results, "_pragma=synchronous(FULL)")

	history := connectionString("/tmp/test.db", ProfileHistory)
	assert.Contains(t, history, "_pragma=synchronous(NORMAL)")
	assert.Contains(t, history, "_pragma=temp_store(MEMORY)")
}

// Concurrent writers through the shared pool must all succeed; without a
// busy timeout the driver surfaces SQLITE_BUSY as soon as two transactions
// contend for the write lock.
func TestDB_ConcurrentWriters(t *testing.T) {
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "concurrent.db"),
		Profile: ProfileResults,
		Name:    "concurrent",
	})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec(`CREATE TABLE entries (id INTEGER PRIMARY KEY, val TEXT NOT NULL)`)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				if err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
					_, err := tx.Exec(`INSERT INTO entries (val) VALUES (?)`, "row")
					return err
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&count))
	assert.Equal(t, 160, count)
}

func TestHealthCheck(t *testing.T) {
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "health.db"),
		Profile: ProfileHistory,
		Name:    "health",
	})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.HealthCheck(context.Background()))
}
