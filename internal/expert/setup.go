package expert

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate 创建用户表与专家档案表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Profile{}); err != nil {
		return fmt.Errorf("无法迁移用户与专家表: %w", err)
	}
	return nil
}
