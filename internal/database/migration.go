package database

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/models"
)

// AutoMigrate 迁移全局数据库
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 多个进程共用一个 SQLite 文件时串行迁移
	if dbFile := sqliteFile(DB); dbFile != "" {
		cleanupStaleLocks(filepath.Dir(dbFile))

		ctx, cancel := context.WithTimeout(context.Background(), lockWaitTimeout)
		defer cancel()
		lock, err := acquireMigrationLock(ctx, dbFile)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return err
		}
		defer lock.Release()
	}

	return Migrate(DB)
}

// Migrate 迁移表结构并创建索引
func Migrate(db *gorm.DB) error {
	logger.Info("开始数据库迁移...")

	migrationModels := []interface{}{
		&models.PortGrant{},
		&models.SerialLog{},
	}
	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes(db)

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建组合索引
func createIndexes(db *gorm.DB) {
	indexes := map[string]string{
		"idx_serial_logs_port_created":  "CREATE INDEX IF NOT EXISTS idx_serial_logs_port_created ON serial_logs(port_path, created_at)",
		"idx_serial_logs_op_direction":  "CREATE INDEX IF NOT EXISTS idx_serial_logs_op_direction ON serial_logs(operation, direction)",
		"idx_serial_logs_error_created": "CREATE INDEX IF NOT EXISTS idx_serial_logs_error_created ON serial_logs(error_name, created_at)",
	}
	for name, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			logger.Warn("创建索引失败", zap.String("index", name), zap.Error(err))
		}
	}
}
