package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE grants (item_id TEXT, realm TEXT)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM grants`).Scan(&n))
	return n
}

func insert(tx *sql.Tx) error {
	_, err := tx.Exec(`INSERT INTO grants VALUES ('1', 'all')`)
	return err
}

func TestInTxCommits(t *testing.T) {
	db := openDB(t)
	require.NoError(t, InTx(context.Background(), db, insert))
	assert.Equal(t, 1, count(t, db))
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := openDB(t)
	boom := errors.New("grant lookup failed")
	err := InTx(context.Background(), db, func(tx *sql.Tx) error {
		require.NoError(t, insert(tx))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, db))
}

func TestInTxRollsBackOnPanic(t *testing.T) {
	db := openDB(t)
	assert.Panics(t, func() {
		InTx(context.Background(), db, func(tx *sql.Tx) error {
			insert(tx)
			panic("bad grant")
		})
	})
	assert.Equal(t, 0, count(t, db))
}
