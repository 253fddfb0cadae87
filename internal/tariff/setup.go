package tariff

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTariffs 是首次启动时写入的档位目录
func DefaultTariffs() []Tariff {
	return []Tariff{
		{Code: "start", Name: "Начальный", Price: decimal.Zero, EventLimit: 3, EventDurationHours: 1, MaxVotesPerEvent: 100, IsActive: true},
		{Code: "standard", Name: "Стандарт", Price: decimal.NewFromInt(299), EventLimit: 10, EventDurationHours: 12, MaxVotesPerEvent: 200, IsActive: true},
		{Code: "pro", Name: "Профи", Price: decimal.NewFromInt(729), EventLimit: 30, EventDurationHours: 24, MaxVotesPerEvent: 1000, IsActive: true},
	}
}

// Migrate 创建档位与订阅表，并写入缺失的默认档位。已存在的档位不会被覆盖。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Tariff{}, &Subscription{}); err != nil {
		return fmt.Errorf("无法迁移档位表: %w", err)
	}

	defaults := DefaultTariffs()
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&defaults).Error; err != nil {
		return fmt.Errorf("无法写入默认档位: %w", err)
	}
	return nil
}
