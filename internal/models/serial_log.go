package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// SerialDirection 串口日志方向
type SerialDirection string

const (
	SerialDirectionSend    SerialDirection = "SEND"    // 写入设备
	SerialDirectionReceive SerialDirection = "RECEIVE" // 从设备读取
	SerialDirectionControl SerialDirection = "CONTROL" // 请求、打开、关闭等控制操作
)

// SerialLogLevel 日志级别
type SerialLogLevel string

const (
	SerialLogLevelInfo  SerialLogLevel = "INFO"
	SerialLogLevelDebug SerialLogLevel = "DEBUG"
	SerialLogLevelWarn  SerialLogLevel = "WARN"
	SerialLogLevelError SerialLogLevel = "ERROR"
)

// JSONData 用于存储JSON格式的数据
type JSONData map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		strVal, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(strVal)
	}
	return json.Unmarshal(bytes, j)
}

// SerialLog 串口操作审计日志
type SerialLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 基础信息
	Operation string          `gorm:"type:varchar(30);index;not null" json:"operation"` // open / close / read / write ...
	Direction SerialDirection `gorm:"type:varchar(10);index;not null" json:"direction"`
	Level     SerialLogLevel  `gorm:"type:varchar(10);default:INFO" json:"level"`

	// 端口信息
	PortPath string `gorm:"type:varchar(255);index" json:"port_path,omitempty"`
	Handle   string `gorm:"type:varchar(64);index" json:"handle,omitempty"`

	// 数据内容
	RawData    string   `gorm:"type:text" json:"raw_data,omitempty"`
	HexData    string   `gorm:"type:text" json:"hex_data,omitempty"`
	Options    JSONData `gorm:"type:json" json:"options,omitempty"`
	BytesCount int      `gorm:"default:0" json:"bytes_count"`

	// 错误信息
	ErrorName string `gorm:"type:varchar(50);index" json:"error_name,omitempty"` // NotFoundError / InvalidStateError ...
	ErrorMsg  string `gorm:"type:text" json:"error_msg,omitempty"`

	// 关联信息
	SessionID string `gorm:"type:varchar(100);index" json:"session_id,omitempty"`
	Operator  string `gorm:"type:varchar(50);index" json:"operator,omitempty"`

	// 性能指标
	Duration  int64 `gorm:"default:0" json:"duration,omitempty"` // 处理时长（毫秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`              // Unix时间戳（毫秒）

	Message string `gorm:"type:text" json:"message,omitempty"`
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}
	return nil
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Operation string          `json:"operation,omitempty" form:"operation"`
	Direction SerialDirection `json:"direction,omitempty" form:"direction"`
	Level     SerialLogLevel  `json:"level,omitempty" form:"level"`
	PortPath  string          `json:"port_path,omitempty" form:"port_path"`
	Handle    string          `json:"handle,omitempty" form:"handle"`
	SessionID string          `json:"session_id,omitempty" form:"session_id"`
	StartTime *time.Time      `json:"start_time,omitempty" form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time      `json:"end_time,omitempty" form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	HasError  *bool           `json:"has_error,omitempty" form:"has_error"`
	Limit     int             `json:"limit,omitempty" form:"limit"`
	Offset    int             `json:"offset,omitempty" form:"offset"`
	OrderBy   string          `json:"order_by,omitempty" form:"order_by"`
}

// SerialLogStats 统计信息
type SerialLogStats struct {
	TotalCount         int64   `json:"total_count"`
	TotalSend          int64   `json:"total_send"`
	TotalReceive       int64   `json:"total_receive"`
	TotalControl       int64   `json:"total_control"`
	TotalErrors        int64   `json:"total_errors"`
	TotalBytesSent     int64   `json:"total_bytes_sent"`
	TotalBytesReceived int64   `json:"total_bytes_received"`
	AvgDuration        float64 `json:"avg_duration"`
	MaxDuration        int64   `json:"max_duration"`
}
