package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/models"
)

// SerialLogRepository 串口日志仓储
type SerialLogRepository struct {
	BaseRepo
}

// NewSerialLogRepository 创建串口日志仓储
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{BaseRepo{db: db}}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(ctx context.Context, log *models.SerialLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(ctx context.Context, logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取日志
func (r *SerialLogRepository) GetByID(ctx context.Context, id uint) (*models.SerialLog, error) {
	var log models.SerialLog
	if err := r.db.WithContext(ctx).First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// GetBySessionID 根据会话ID获取日志
func (r *SerialLogRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// 允许的排序字段
var orderColumns = map[string]bool{
	"created_at":  true,
	"timestamp":   true,
	"duration":    true,
	"bytes_count": true,
	"id":          true,
}

// sanitizeOrder 校验排序参数，不合法时返回默认排序
func sanitizeOrder(orderBy string) string {
	fields := strings.Fields(strings.ToLower(orderBy))
	if len(fields) == 0 || len(fields) > 2 || !orderColumns[fields[0]] {
		return "created_at DESC"
	}
	dir := "ASC"
	if len(fields) == 2 {
		switch fields[1] {
		case "asc":
		case "desc":
			dir = "DESC"
		default:
			return "created_at DESC"
		}
	}
	return fields[0] + " " + dir
}

// Query 查询日志
func (r *SerialLogRepository) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.SerialLog{})

	if query.Operation != "" {
		db = db.Where("operation = ?", query.Operation)
	}
	if query.Direction != "" {
		db = db.Where("direction = ?", query.Direction)
	}
	if query.Level != "" {
		db = db.Where("level = ?", query.Level)
	}
	if query.PortPath != "" {
		db = db.Where("port_path = ?", query.PortPath)
	}
	if query.Handle != "" {
		db = db.Where("handle = ?", query.Handle)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_msg IS NOT NULL AND error_msg != ''")
		} else {
			db = db.Where("error_msg IS NULL OR error_msg = ''")
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order(sanitizeOrder(query.OrderBy))
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.SerialLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// GetStats 获取统计信息
func (r *SerialLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.SerialLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	stats := &models.SerialLogStats{}
	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	type directionRow struct {
		Direction string
		Count     int64
		Bytes     int64
	}
	var rows []directionRow
	if err := scoped().
		Select("direction, COUNT(*) as count, COALESCE(SUM(bytes_count), 0) as bytes").
		Group("direction").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		switch models.SerialDirection(row.Direction) {
		case models.SerialDirectionSend:
			stats.TotalSend = row.Count
			stats.TotalBytesSent = row.Bytes
		case models.SerialDirectionReceive:
			stats.TotalReceive = row.Count
			stats.TotalBytesReceived = row.Bytes
		case models.SerialDirectionControl:
			stats.TotalControl = row.Count
		}
	}

	if err := scoped().
		Where("error_msg IS NOT NULL AND error_msg != ''").
		Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	var durationStats struct {
		AvgDuration float64
		MaxDuration int64
	}
	if err := scoped().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration").
		Where("duration > 0").
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = durationStats.AvgDuration
	stats.MaxDuration = durationStats.MaxDuration

	return stats, nil
}

// GetLatest 获取最新的日志记录
func (r *SerialLogRepository) GetLatest(ctx context.Context, limit int, portPath string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	db := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if portPath != "" {
		db = db.Where("port_path = ?", portPath)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// GetErrorLogs 获取错误日志
func (r *SerialLogRepository) GetErrorLogs(ctx context.Context, limit int) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.WithContext(ctx).Where("error_msg IS NOT NULL AND error_msg != ''").
		Or("level = ?", models.SerialLogLevelError).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧日志
func (r *SerialLogRepository) DeleteOldLogs(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("created_at < ?", beforeTime).Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *SerialLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	beforeTime := time.Now().AddDate(0, 0, -retentionDays)
	return r.DeleteOldLogs(ctx, beforeTime)
}
