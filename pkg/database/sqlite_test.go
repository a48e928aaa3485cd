package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfig_DSN(t *testing.T) {
	dsn := Config{Path: "/var/lib/loanflow/db.sqlite"}.DSN()
	assert.Contains(t, dsn, "file:/var/lib/loanflow/db.sqlite?")
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_foreign_keys=on")

	dsn = Config{Path: ":memory:", BusyTimeout: 250 * time.Millisecond}.DSN()
	assert.Contains(t, dsn, "_busy_timeout=250")
	assert.NotContains(t, dsn, "_journal_mode")
}

func TestConfig_NormalizePinsInMemoryPool(t *testing.T) {
	cfg := Config{Path: ":memory:", MaxOpenConns: 4, MaxIdleConns: 4, ConnMaxLifetime: time.Minute}.normalize()
	assert.Equal(t, 1, cfg.MaxOpenConns)
	assert.Equal(t, 1, cfg.MaxIdleConns)
	assert.Zero(t, cfg.ConnMaxLifetime)

	cfg = Config{Path: "loanflow.db", MaxIdleConns: 3}.normalize()
	assert.Equal(t, 1, cfg.MaxOpenConns)
	assert.Equal(t, 1, cfg.MaxIdleConns)
	assert.Equal(t, DefaultBusyTimeout, cfg.BusyTimeout)
}

func TestNew_AppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "loanflow.db")
	db, err := New(Config{Path: path, BusyTimeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	var foreignKeys, busy int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 1, foreignKeys)
	assert.Equal(t, 2000, busy)

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "loanflow.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.Exec("CREATE TABLE stages (name TEXT PRIMARY KEY)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO stages (name) VALUES ('Submitted')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO stages (name) VALUES ('CreditAnalysis')")
		return err
	}))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM stages").Scan(&n))
	assert.Equal(t, 1, n)
}
