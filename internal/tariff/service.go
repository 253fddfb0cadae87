package tariff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/shopspring/decimal"
)

// ErrNoTariffs 表示档位目录为空，属于部署错误
var ErrNoTariffs = errors.New("档位目录为空")

// MonthlyEventCounter 统计专家自某时刻以来计入额度的活动数（待审核与已通过）
type MonthlyEventCounter interface {
	CountTowardsLimit(ctx context.Context, expertID int64, since time.Time) (int64, error)
}

// Service 计算专家的有效档位与当月额度
type Service struct {
	repo   *Repository
	events MonthlyEventCounter
}

func NewService(repo *Repository, events MonthlyEventCounter) *Service {
	return &Service{repo: repo, events: events}
}

// List 返回启用的档位，价格从低到高
func (s *Service) List(ctx context.Context) ([]Tariff, error) {
	tariffs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(tariffs)-1; i < j; i, j = i+1, j-1 {
		tariffs[i], tariffs[j] = tariffs[j], tariffs[i]
	}
	return tariffs, nil
}

// EffectiveTariff 返回用户当前生效的档位
func (s *Service) EffectiveTariff(ctx context.Context, userID int64) (Tariff, error) {
	t, _, err := s.effective(ctx, userID)
	return t, err
}

func (s *Service) effective(ctx context.Context, userID int64) (Tariff, *Subscription, error) {
	tariffs, err := s.repo.ListActive(ctx)
	if err != nil {
		return Tariff{}, nil, err
	}
	sub, err := s.repo.GetSubscription(ctx, userID)
	if err != nil {
		return Tariff{}, nil, err
	}
	t, ok := Resolve(tariffs, sub)
	if !ok {
		return Tariff{}, nil, ErrNoTariffs
	}
	return t, sub, nil
}

// CurrentMonthEventCount 返回本自然月（UTC）内创建的、计入额度的活动数。
// 展示与校验使用同一个计数。
func (s *Service) CurrentMonthEventCount(ctx context.Context, userID int64, now time.Time) (int64, error) {
	count, err := s.events.CountTowardsLimit(ctx, userID, MonthStart(now))
	if err != nil {
		return 0, fmt.Errorf("无法统计专家 %d 本月的活动: %w", userID, err)
	}
	return count, nil
}

// CheckEventCreationAllowed 判断专家本月是否还能创建活动
func (s *Service) CheckEventCreationAllowed(ctx context.Context, userID int64, now time.Time) (bool, error) {
	t, err := s.EffectiveTariff(ctx, userID)
	if err != nil {
		return false, err
	}
	count, err := s.CurrentMonthEventCount(ctx, userID, now)
	if err != nil {
		return false, err
	}
	return count < int64(t.EventLimit), nil
}

// MaxEventDurationMinutes 返回专家单个活动允许的最长时长
func (s *Service) MaxEventDurationMinutes(ctx context.Context, userID int64) (int, error) {
	t, err := s.EffectiveTariff(ctx, userID)
	if err != nil {
		return 0, err
	}
	return t.MaxDurationMinutes(), nil
}

// MaxVotesPerEvent 返回专家活动的建议票数上限
func (s *Service) MaxVotesPerEvent(ctx context.Context, userID int64) (int, error) {
	t, err := s.EffectiveTariff(ctx, userID)
	if err != nil {
		return 0, err
	}
	return t.MaxVotesPerEvent, nil
}

// Usage 返回专家当月额度的读模型
func (s *Service) Usage(ctx context.Context, userID int64, now time.Time) (*Usage, error) {
	t, sub, err := s.effective(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.CurrentMonthEventCount(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	remaining := int64(t.EventLimit) - count
	if remaining < 0 {
		remaining = 0
	}
	return &Usage{
		Tariff:             t,
		EventsUsed:         count,
		EventsLimit:        t.EventLimit,
		EventsRemaining:    remaining,
		MaxDurationMinutes: t.MaxDurationMinutes(),
		MaxVotesPerEvent:   t.MaxVotesPerEvent,
		SubscriptionActive: sub != nil && sub.IsActive,
	}, nil
}

// ActivateSubscription 记录一次付款或续费
func (s *Service) ActivateSubscription(ctx context.Context, userID int64, amount decimal.Decimal, next *time.Time) error {
	if amount.IsNegative() {
		return apperr.Validation("invalid_amount", "订阅金额不能为负数")
	}
	return s.repo.ActivateSubscription(ctx, userID, amount, next)
}

// DeactivateSubscription 记录订阅到期或取消
func (s *Service) DeactivateSubscription(ctx context.Context, userID int64, status string) error {
	return s.repo.DeactivateSubscription(ctx, userID, status)
}
