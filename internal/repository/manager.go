package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器
type Manager struct {
	db *gorm.DB

	portGrantOnce sync.Once
	portGrant     *PortGrantRepository

	serialLogOnce sync.Once
	serialLog     *SerialLogRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// PortGrant 获取端口授权仓储
func (m *Manager) PortGrant() *PortGrantRepository {
	m.portGrantOnce.Do(func() {
		m.portGrant = NewPortGrantRepository(m.db)
	})
	return m.portGrant
}

// SerialLog 获取串口日志仓储
func (m *Manager) SerialLog() *SerialLogRepository {
	m.serialLogOnce.Do(func() {
		m.serialLog = NewSerialLogRepository(m.db)
	})
	return m.serialLog
}
