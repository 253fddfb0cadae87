package payment

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 创建支付事件表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("无法迁移支付事件表: %w", err)
	}
	return nil
}
