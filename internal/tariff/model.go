package tariff

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tariff 是一个订阅档位，价格门槛决定了专家可用的额度
type Tariff struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	Code               string          `gorm:"size:32;uniqueIndex;not null" json:"code"`
	Name               string          `gorm:"size:64;not null" json:"name"`
	Price              decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	EventLimit         int             `gorm:"not null" json:"event_limit"`
	EventDurationHours int             `gorm:"not null" json:"event_duration_hours"`
	MaxVotesPerEvent   int             `gorm:"not null" json:"max_votes_per_event"`
	IsActive           bool            `gorm:"not null;index" json:"-"`
	CreatedAt          time.Time       `json:"-"`
	UpdatedAt          time.Time       `json:"-"`
}

// MaxDurationMinutes 返回单个活动允许的最长时长
func (t Tariff) MaxDurationMinutes() int {
	return t.EventDurationHours * 60
}

// ItemPrefix 是档位在VK支付中的商品ID前缀，例如 tariff_standard
const ItemPrefix = "tariff_"

// CodeFromItem 从商品ID中取出档位编码
func CodeFromItem(item string) (string, bool) {
	code, ok := strings.CutPrefix(item, ItemPrefix)
	return code, ok && code != ""
}

// Sellable 判断档位能否购买：免费档与停用的档位不出售
func (t Tariff) Sellable() bool {
	return t.IsActive && t.Price.IsPositive()
}

// Subscription 是用户在支付平台上的订阅状态，由支付回调写入
type Subscription struct {
	UserID          int64           `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	IsActive        bool            `gorm:"not null" json:"is_active"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status          string          `gorm:"size:32;not null" json:"status"`
	NextPaymentDate *time.Time      `json:"next_payment_date,omitempty"`
	CreatedAt       time.Time       `json:"-"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "donut_subscriptions"
}

// 订阅状态
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Usage 是专家当月额度的读模型
type Usage struct {
	Tariff             Tariff `json:"tariff"`
	EventsUsed         int64  `json:"events_used"`
	EventsLimit        int    `json:"events_limit"`
	EventsRemaining    int64  `json:"events_remaining"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
	MaxVotesPerEvent   int    `json:"max_votes_per_event"`
	SubscriptionActive bool   `json:"subscription_active"`
}
