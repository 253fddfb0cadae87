package event

import (
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/pkg/timewindow"
)

// Status 是活动的审核状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Event 是专家发起的一次限时投票活动，窗口为 [StartsAt, StartsAt+DurationMinutes)
type Event struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	ExpertID             int64     `gorm:"not null;index" json:"expert_id"`
	Name                 string    `gorm:"size:128;not null" json:"name"`
	Description          string    `gorm:"type:text" json:"description,omitempty"`
	PromoWord            string    `gorm:"size:100;not null;index" json:"promo_word"`
	StartsAt             time.Time `gorm:"not null;index" json:"starts_at"`
	DurationMinutes      int       `gorm:"not null" json:"duration_minutes"`
	Status               Status    `gorm:"size:16;not null;index" json:"status"`
	RejectionReason      string    `gorm:"type:text" json:"rejection_reason,omitempty"`
	IsPrivate            bool      `gorm:"not null" json:"is_private"`
	EventLink            string    `gorm:"size:512" json:"event_link,omitempty"`
	VoterThankYouMessage string    `gorm:"type:text" json:"voter_thank_you_message,omitempty"`
	SendReminder         bool      `gorm:"not null" json:"send_reminder"`
	ReminderSent         bool      `gorm:"not null" json:"-"`
	CreatedAt            time.Time `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time `json:"-"`
}

// EndsAt 返回投票窗口的结束时刻（不包含）
func (e *Event) EndsAt() time.Time {
	return timewindow.End(e.StartsAt, e.DurationMinutes)
}

// WindowStatus 返回 now 时刻投票窗口的状态
func (e *Event) WindowStatus(now time.Time) timewindow.Status {
	return timewindow.StatusAt(now, e.StartsAt, e.DurationMinutes)
}

// NormalizePromo 去除首尾空白并转为大写
func NormalizePromo(word string) string {
	return strings.ToUpper(strings.TrimSpace(word))
}

// CreateInput 是创建活动的输入
type CreateInput struct {
	Name                 string    `json:"name" binding:"required" validate:"required,max=128"`
	Description          string    `json:"description" validate:"max=4000"`
	PromoWord            string    `json:"promo_word" binding:"required" validate:"required,max=100"`
	StartsAt             time.Time `json:"starts_at" binding:"required" validate:"required"`
	DurationMinutes      int       `json:"duration_minutes" binding:"required" validate:"gt=0"`
	IsPrivate            bool      `json:"is_private"`
	EventLink            string    `json:"event_link" validate:"omitempty,url,max=512"`
	VoterThankYouMessage string    `json:"voter_thank_you_message" validate:"max=1000"`
	SendReminder         bool      `json:"send_reminder"`
}

// Summary 是“我的活动”列表中的一行
type Summary struct {
	Event
	WindowStatus timewindow.Status `json:"window_status"`
	EndsAt       time.Time         `json:"ends_at"`
	Trust        int64             `json:"trust"`
	Distrust     int64             `json:"distrust"`
	VotesCount   int64             `json:"votes_count"`
}

// ExpertEvents 是专家公开主页上的活动列表：未结束的按开始时间升序，已结束的按开始时间倒序
type ExpertEvents struct {
	Current []Summary `json:"current"`
	Past    []Summary `json:"past"`
}
