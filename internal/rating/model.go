package rating

import (
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
)

// Value 是投票值。中立不落库，用“没有评分行”表示。
type Value int

const (
	Distrust Value = -1
	Neutral  Value = 0
	Trust    Value = 1
)

// ParseValue 将请求中的投票类型转换为投票值
func ParseValue(s string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trust", "+1", "1":
		return Trust, nil
	case "distrust", "-1":
		return Distrust, nil
	default:
		return Neutral, apperr.Validation("invalid_vote_type", "无效的投票类型: %s", s)
	}
}

func (v Value) String() string {
	switch v {
	case Trust:
		return "trust"
	case Distrust:
		return "distrust"
	default:
		return "neutral"
	}
}

// Rating 是投票人对专家的当前评价，每对 (专家, 投票人) 至多一行
type Rating struct {
	ExpertID  int64 `gorm:"primaryKey;autoIncrement:false"`
	VoterID   int64 `gorm:"primaryKey;autoIncrement:false;index"`
	VoteValue Value `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Rating) TableName() string {
	return "expert_ratings"
}

// InteractionRecord 是只追加的互动历史，每次投票或撤回都会写入一条，记录当时的评价快照
type InteractionRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ExpertID       int64     `gorm:"not null;index" json:"expert_id"`
	VoterID        int64     `gorm:"not null;index" json:"voter_id"`
	EventID        *uint     `gorm:"index" json:"event_id,omitempty"`
	Comment        string    `gorm:"type:text" json:"comment,omitempty"`
	RatingSnapshot Value     `gorm:"not null;default:0" json:"rating_snapshot"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (InteractionRecord) TableName() string {
	return "interaction_records"
}

// Aggregate 是专家当前的信任统计，仅由现存评分行计算得出
type Aggregate struct {
	Trust    int64 `json:"trust"`
	Distrust int64 `json:"distrust"`
	Net      int64 `json:"net"`
}

// Tally 是某个活动中各投票人最新一次互动的统计
type Tally struct {
	Trust    int64 `json:"trust"`
	Distrust int64 `json:"distrust"`
}

// Votes 返回活动中仍然有效的投票数
func (t Tally) Votes() int64 {
	return t.Trust + t.Distrust
}

// RankFilter 是专家排行的查询条件
type RankFilter struct {
	Page   int
	Size   int
	Region string
	Search string
}

// RankedExpert 是排行榜中的一行
type RankedExpert struct {
	ExpertID  int64  `json:"expert_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhotoURL  string `json:"photo_url"`
	Region    string `json:"region"`
	Trust     int64  `json:"trust"`
	Distrust  int64  `json:"distrust"`
	Net       int64  `json:"net"`
}
