package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/models"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "data", "bridge.db")
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn, LogLevel: "silent"})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.PortGrant{}))
	assert.True(t, db.Migrator().HasTable(&models.SerialLog{}))
	assert.Equal(t, "bridge.db", filepath.Base(sqliteFile(db)))

	// 重复迁移无副作用
	require.NoError(t, Migrate(db))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestMigrationLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.db")
	lock, err := acquireMigrationLock(context.Background(), dbPath)
	require.NoError(t, err)
	assert.FileExists(t, dbPath+lockSuffix)

	// 锁被占用时等待到超时
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = acquireMigrationLock(ctx, dbPath)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	lock.Release()
	assert.NoFileExists(t, dbPath+lockSuffix)
}

func TestStaleLockRemoved(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bridge.db")
	require.NoError(t, os.WriteFile(dbPath+lockSuffix, []byte("1\n"), 0644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(dbPath+lockSuffix, old, old))

	cleanupStaleLocks(dir)
	assert.NoFileExists(t, dbPath+lockSuffix)
}
