package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wfunc/serial-bridge/internal/models"
	"github.com/wfunc/serial-bridge/internal/transport"
)

// PortGrantRepository 端口授权仓储，重启后授权仍然有效
type PortGrantRepository struct {
	BaseRepo
}

// NewPortGrantRepository 创建端口授权仓储
func NewPortGrantRepository(db *gorm.DB) *PortGrantRepository {
	return &PortGrantRepository{BaseRepo{db: db}}
}

// Grant 记录授权，已存在时更新描述
func (r *PortGrantRepository) Grant(ctx context.Context, info transport.PortInfo) error {
	grant := &models.PortGrant{
		Path:         info.Path,
		USBVendorID:  info.USBVendorID,
		USBProductID: info.USBProductID,
		SerialNumber: info.SerialNumber,
		Product:      info.Product,
		GrantedBy:    OperatorFromContext(ctx),
		LastGranted:  time.Now(),
	}

	return r.Transaction(ctx, func(tx *gorm.DB) error {
		// 撤销过的记录被软删除，先彻底清掉
		if err := tx.Unscoped().
			Where("path = ? AND deleted_at IS NOT NULL", info.Path).
			Delete(&models.PortGrant{}).Error; err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"usb_vendor_id", "usb_product_id", "serial_number", "product", "granted_by", "last_granted", "updated_at",
			}),
		}).Create(grant).Error
	})
}

// Revoke 撤销授权
func (r *PortGrantRepository) Revoke(ctx context.Context, path string) error {
	return r.db.WithContext(ctx).Where("path = ?", path).Delete(&models.PortGrant{}).Error
}

// Granted 列出已授权端口
func (r *PortGrantRepository) Granted(ctx context.Context) ([]transport.PortInfo, error) {
	var grants []models.PortGrant
	if err := r.db.WithContext(ctx).Order("path ASC").Find(&grants).Error; err != nil {
		return nil, err
	}

	list := make([]transport.PortInfo, 0, len(grants))
	for _, g := range grants {
		list = append(list, transport.PortInfo{
			Path:         g.Path,
			USBVendorID:  g.USBVendorID,
			USBProductID: g.USBProductID,
			SerialNumber: g.SerialNumber,
			Product:      g.Product,
		})
	}
	return list, nil
}

// List 列出授权记录
func (r *PortGrantRepository) List(ctx context.Context) ([]*models.PortGrant, error) {
	var grants []*models.PortGrant
	err := r.db.WithContext(ctx).Order("last_granted DESC").Find(&grants).Error
	return grants, err
}

type operatorKey struct{}

// WithOperator 在 ctx 中记录操作员
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext 取出 ctx 中的操作员
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
