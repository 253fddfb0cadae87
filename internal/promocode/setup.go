package promocode

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 创建促销码与使用记录表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Code{}, &Activation{}); err != nil {
		return fmt.Errorf("无法迁移促销码表: %w", err)
	}
	return nil
}
