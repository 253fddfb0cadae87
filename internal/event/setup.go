package event

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 创建活动表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return fmt.Errorf("无法迁移活动表: %w", err)
	}
	return nil
}
