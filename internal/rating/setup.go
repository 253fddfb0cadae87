package rating

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 创建评分表与互动历史表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Rating{}, &InteractionRecord{}); err != nil {
		return fmt.Errorf("无法迁移评分表: %w", err)
	}
	return nil
}
