package expert

import (
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
)

// User 是通过VK登录的用户，主键即VK用户ID
type User struct {
	VKID               int64     `gorm:"primaryKey;column:vk_id;autoIncrement:false" json:"vk_id"`
	FirstName          string    `gorm:"size:128" json:"first_name"`
	LastName           string    `gorm:"size:128" json:"last_name"`
	PhotoURL           string    `gorm:"size:512" json:"photo_url,omitempty"`
	AllowNotifications bool      `gorm:"not null" json:"allow_notifications"`
	RegisteredAt       time.Time `gorm:"autoCreateTime" json:"registered_at"`
	UpdatedAt          time.Time `json:"-"`
}

func (User) TableName() string {
	return "users"
}

// Status 是专家申请的审核状态
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Profile 是用户的专家档案
type Profile struct {
	UserVKID            int64     `gorm:"primaryKey;column:user_vk_id;autoIncrement:false" json:"user_vk_id"`
	Status              Status    `gorm:"size:16;not null;index" json:"status"`
	RejectionReason     string    `gorm:"type:text" json:"rejection_reason,omitempty"`
	Region              string    `gorm:"size:128;index" json:"region"`
	SocialLink          string    `gorm:"size:512" json:"social_link"`
	Regalia             string    `gorm:"type:text" json:"regalia,omitempty"`
	PerformanceLink     string    `gorm:"size:512" json:"performance_link,omitempty"`
	ReferrerInfo        string    `gorm:"size:256" json:"referrer_info,omitempty"`
	ShowCommunityRating bool      `gorm:"not null" json:"show_community_rating"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"-"`
}

func (Profile) TableName() string {
	return "expert_profiles"
}

// RegisterInput 是专家申请的输入
type RegisterInput struct {
	FirstName       string `json:"first_name" binding:"required,max=128"`
	LastName        string `json:"last_name" binding:"required,max=128"`
	PhotoURL        string `json:"photo_url" binding:"omitempty,url,max=512"`
	Region          string `json:"region" binding:"required,max=128"`
	SocialLink      string `json:"social_link" binding:"required,url,max=512"`
	Regalia         string `json:"regalia" binding:"max=4000"`
	PerformanceLink string `json:"performance_link" binding:"omitempty,url,max=512"`
	ReferrerInfo    string `json:"referrer_info" binding:"max=256"`
}

// ProfileView 是缓存在 user_profile:<id> 下的用户档案读模型
type ProfileView struct {
	User        User             `json:"user"`
	IsAdmin     bool             `json:"is_admin"`
	Expert      *Profile         `json:"expert,omitempty"`
	Rating      rating.Aggregate `json:"rating"`
	EventsCount int64            `json:"events_count"`
	Usage       *tariff.Usage    `json:"usage,omitempty"`
}
