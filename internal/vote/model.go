package vote

import (
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/pkg/timewindow"
)

// SubmitInput 是一次投票请求。PromoWord 与 ExpertID 二选一：
// 填写促销词时为活动投票，填写专家ID时为社区投票。
type SubmitInput struct {
	PromoWord string `json:"promo_word"`
	ExpertID  int64  `json:"expert_id"`
	VoteType  string `json:"vote_type" binding:"required"`
	Comment   string `json:"comment" binding:"max=2000"`
}

// IsEventScope 判断请求是否针对活动
func (in SubmitInput) IsEventScope() bool {
	return in.PromoWord != ""
}

// Result 是投票成功后的结果，也是幂等重放时返回的内容
type Result struct {
	RecordID        uint             `json:"record_id"`
	ExpertID        int64            `json:"expert_id"`
	EventID         *uint            `json:"event_id,omitempty"`
	Vote            string           `json:"vote"`
	Previous        string           `json:"previous,omitempty"`
	Rating          rating.Aggregate `json:"rating"`
	ThankYouMessage string           `json:"thank_you_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// WithdrawInput 是撤回投票的请求
type WithdrawInput struct {
	ExpertID int64 `json:"expert_id" binding:"required,gt=0"`
	EventID  *uint `json:"event_id"`
}

// ExpertCard 是活动状态中展示的专家信息
type ExpertCard struct {
	VKID      int64  `json:"vk_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// EventStatus 是投票页面通过促销词查询到的活动状态
type EventStatus struct {
	EventID           uint              `json:"event_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	PromoWord         string            `json:"promo_word"`
	EventLink         string            `json:"event_link,omitempty"`
	StartsAt          time.Time         `json:"starts_at"`
	EndsAt            time.Time         `json:"ends_at"`
	Window            timewindow.Status `json:"window"`
	SecondsRemaining  int64             `json:"seconds_remaining"`
	HasVoted          bool              `json:"has_voted"`
	VotesCount        int64             `json:"votes_count"`
	VotesLimit        int               `json:"votes_limit"`
	VotesLimitReached bool              `json:"votes_limit_reached"`
	Expert            ExpertCard        `json:"expert"`
}
