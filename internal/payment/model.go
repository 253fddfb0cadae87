package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// VK回调的事件类型
const (
	TypeConfirmation        = "confirmation"
	TypeDonutCreate         = "donut_subscription_create"
	TypeDonutProlonged      = "donut_subscription_prolonged"
	TypeDonutPriceChanged   = "donut_subscription_price_changed"
	TypeDonutExpired        = "donut_subscription_expired"
	TypeDonutCancelled      = "donut_subscription_cancelled"
	defaultCallbackResponse = "ok"
)

// Callback 是VK回调接口推送的请求体
type Callback struct {
	Type    string          `json:"type"`
	GroupID int64           `json:"group_id"`
	EventID string          `json:"event_id"`
	Secret  string          `json:"secret"`
	Object  json.RawMessage `json:"object"`
}

// donutObject 是Donut订阅事件的 object 字段
type donutObject struct {
	UserID          int64            `json:"user_id"`
	Amount          *decimal.Decimal `json:"amount"`
	AmountNew       *decimal.Decimal `json:"amount_new"`
	NextPaymentDate int64            `json:"next_payment_date"`
}

func (o donutObject) amount() *decimal.Decimal {
	if o.AmountNew != nil {
		return o.AmountNew
	}
	return o.Amount
}

func (o donutObject) nextPayment() *time.Time {
	if o.NextPaymentDate <= 0 {
		return nil
	}
	t := time.Unix(o.NextPaymentDate, 0).UTC()
	return &t
}

// Event 是已处理的支付事件，event_id 唯一，保证同一事件只生效一次
type Event struct {
	ID        uint           `gorm:"primaryKey"`
	EventID   string         `gorm:"size:128;uniqueIndex;not null"`
	Type      string         `gorm:"size:64;not null"`
	UserID    int64          `gorm:"not null;index"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
}

func (Event) TableName() string {
	return "payment_events"
}
