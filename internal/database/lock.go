package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/logger"
)

const (
	lockSuffix        = ".migration.lock"
	lockRetryInterval = time.Second
	lockWaitTimeout   = 30 * time.Second
	staleLockAge      = 5 * time.Minute
)

// migrationLock SQLite 迁移文件锁，同一个库同时只有一个进程迁移
type migrationLock struct {
	path string
	file *os.File
}

// acquireMigrationLock 获取迁移锁，过期的锁会被删除
func acquireMigrationLock(ctx context.Context, dbPath string) (*migrationLock, error) {
	path := dbPath + lockSuffix

	for attempt := 1; ; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			fmt.Fprintln(f, strconv.Itoa(os.Getpid()))
			logger.Debug("获取迁移锁成功", zap.String("lock", path))
			return &migrationLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("创建迁移锁失败: %w", err)
		}
		if removeStaleLock(path, staleLockAge) {
			continue
		}

		logger.Debug("等待迁移锁...", zap.String("lock", path), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待迁移锁超时，可能有其他进程正在迁移: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// Release 释放迁移锁
func (l *migrationLock) Release() {
	if l == nil {
		return
	}
	l.file.Close()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("删除迁移锁失败", zap.String("lock", l.path), zap.Error(err))
		return
	}
	logger.Debug("释放迁移锁", zap.String("lock", l.path))
}

// removeStaleLock 锁文件超过 maxAge 时删除
func removeStaleLock(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= maxAge {
		return false
	}
	logger.Warn("迁移锁文件过期，删除", zap.String("lock", path), zap.Time("modified", info.ModTime()))
	return os.Remove(path) == nil
}

// cleanupStaleLocks 清理数据库目录下遗留的锁文件
func cleanupStaleLocks(dir string) {
	matches, _ := filepath.Glob(filepath.Join(dir, "*"+lockSuffix))
	for _, path := range matches {
		removeStaleLock(path, 2*staleLockAge)
	}
}

// sqliteFile 返回 SQLite 数据库文件路径，内存库和其他数据库返回空串
func sqliteFile(db *gorm.DB) string {
	if db.Dialector.Name() != "sqlite" {
		return ""
	}
	sqlDB, err := db.DB()
	if err != nil {
		return ""
	}
	var seq int
	var name, file string
	if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}
