package models

import (
	"time"

	"gorm.io/gorm"
)

// PortGrant 已授权的串口
type PortGrant struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Path         string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"path"`
	USBVendorID  uint16    `gorm:"default:0" json:"usb_vendor_id,omitempty"`
	USBProductID uint16    `gorm:"default:0" json:"usb_product_id,omitempty"`
	SerialNumber string    `gorm:"type:varchar(100)" json:"serial_number,omitempty"`
	Product      string    `gorm:"type:varchar(255)" json:"product,omitempty"`
	GrantedBy    string    `gorm:"type:varchar(50)" json:"granted_by,omitempty"`
	LastGranted  time.Time `json:"last_granted"`
}

// TableName 指定表名
func (PortGrant) TableName() string {
	return "port_grants"
}
