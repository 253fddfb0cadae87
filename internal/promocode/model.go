package promocode

import (
	"time"
)

// Code 是折扣促销码。编码统一存为大写。
type Code struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Code                 string     `gorm:"size:50;uniqueIndex;not null" json:"code"`
	DiscountPercent      int        `gorm:"not null" json:"discount_percent"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	IsActive             bool       `gorm:"not null" json:"is_active"`
	ActivationsLimit     *int       `json:"activations_limit,omitempty"`
	UserActivationsLimit int        `gorm:"not null;default:1" json:"user_activations_limit"`
	CreatedAt            time.Time  `json:"created_at"`
}

func (Code) TableName() string {
	return "promo_codes"
}

// usable 判断促销码在 now 时刻是否可用
func (c *Code) usable(now time.Time) bool {
	return c.IsActive && (c.ExpiresAt == nil || c.ExpiresAt.After(now))
}

// Activation 记录一次促销码的使用
type Activation struct {
	ID          uint      `gorm:"primaryKey"`
	PromoCodeID uint      `gorm:"not null;index"`
	UserVKID    int64     `gorm:"not null;index"`
	ActivatedAt time.Time `gorm:"not null"`
}

func (Activation) TableName() string {
	return "promo_code_activations"
}

// Input 是管理员创建或修改促销码的请求
type Input struct {
	Code                 string     `json:"code" binding:"required" validate:"required,max=50"`
	DiscountPercent      int        `json:"discount_percent" binding:"required" validate:"gt=0,lte=100"`
	ExpiresAt            *time.Time `json:"expires_at"`
	IsActive             *bool      `json:"is_active"`
	ActivationsLimit     *int       `json:"activations_limit" validate:"omitempty,gt=0"`
	UserActivationsLimit int        `json:"user_activations_limit" validate:"gte=0"`
}

// ApplyInput 是用户对某个档位使用促销码的请求
type ApplyInput struct {
	Code     string `json:"code" binding:"required"`
	TariffID string `json:"tariff_id" binding:"required"`
}

// Quote 是使用促销码后的价格
type Quote struct {
	Code            string `json:"code"`
	OriginalPrice   int64  `json:"original_price"`
	DiscountPercent int    `json:"discount_percent"`
	FinalPrice      int64  `json:"final_price"`
}
