package expert

import (
	"context"
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/event"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound      = apperr.New(apperr.KindNotFound, "user_not_found", "用户不存在")
	ErrExpertNotFound    = apperr.New(apperr.KindNotFound, "expert_not_found", "专家不存在")
	ErrAlreadyRegistered = apperr.New(apperr.KindConflict, "already_registered", "您已经提交过专家申请")
)

const defaultRejectionReason = "Заявка не соответствует требованиям"

// ProfileCache 是档案读模型的缓存
type ProfileCache interface {
	Get(ctx context.Context, userID int64, out any) (bool, error)
	Set(ctx context.Context, userID int64, profile any) error
	Invalidate(ctx context.Context, userIDs ...int64)
}

// Deps 汇总专家服务依赖的其他模块
type Deps struct {
	Repo     *Repository
	Ratings  *rating.Repository
	Events   *event.Repository
	Tariffs  *tariff.Service
	TariffDB *tariff.Repository
	Cache    ProfileCache
	Notifier notify.Notifier
	IsAdmin  func(userID int64) bool
	Log      *zap.Logger
}

// Service 负责专家的申请、审核、注销以及档案读模型
type Service struct {
	Deps
	now func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.IsAdmin == nil {
		deps.IsAdmin = func(int64) bool { return false }
	}
	return &Service{Deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock 替换服务使用的时钟
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register 创建用户（如不存在）与待审核的专家档案。
// 被拒绝的申请可以重新提交；待审核或已通过时返回冲突。
func (s *Service) Register(ctx context.Context, userID int64, in RegisterInput) (*Profile, error) {
	existing, err := s.Repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != StatusRejected {
		return nil, ErrAlreadyRegistered
	}

	profile := &Profile{
		UserVKID:            userID,
		Status:              StatusPending,
		Region:              strings.TrimSpace(in.Region),
		SocialLink:          in.SocialLink,
		Regalia:             in.Regalia,
		PerformanceLink:     in.PerformanceLink,
		ReferrerInfo:        in.ReferrerInfo,
		ShowCommunityRating: true,
	}
	if existing != nil {
		profile.CreatedAt = existing.CreatedAt
	}

	err = s.Repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.Repo.WithTx(tx)
		if err := repo.UpsertUser(ctx, &User{
			VKID:               userID,
			FirstName:          strings.TrimSpace(in.FirstName),
			LastName:           strings.TrimSpace(in.LastName),
			PhotoURL:           in.PhotoURL,
			AllowNotifications: true,
		}); err != nil {
			return err
		}
		return repo.SaveProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}

	s.Cache.Invalidate(ctx, userID)
	s.Notifier.NotifyAdmins(notify.KindExpertRequest, notify.Params{
		"name":   strings.TrimSpace(in.FirstName + " " + in.LastName),
		"region": profile.Region,
	})
	return profile, nil
}

// Approve 通过专家申请
func (s *Service) Approve(ctx context.Context, userID int64) error {
	ok, err := s.Repo.SetStatus(ctx, userID, StatusApproved, "")
	if err != nil {
		return err
	}
	if !ok {
		return ErrExpertNotFound
	}
	s.Cache.Invalidate(ctx, userID)
	s.Notifier.Notify(userID, notify.KindExpertApproved, nil)
	return nil
}

// Reject 拒绝专家申请，未填写原因时使用默认原因
func (s *Service) Reject(ctx context.Context, userID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRejectionReason
	}
	ok, err := s.Repo.SetStatus(ctx, userID, StatusRejected, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrExpertNotFound
	}
	s.Cache.Invalidate(ctx, userID)
	s.Notifier.Notify(userID, notify.KindExpertRejected, notify.Params{"reason": reason})
	return nil
}

// Delete 注销用户：在一个事务中删除其评分、互动记录、活动、订阅、专家档案与用户本身
func (s *Service) Delete(ctx context.Context, userID int64) error {
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrUserNotFound
	}

	// 受影响的还有该用户投过票的专家，他们的统计会变化
	var affected []int64
	err = s.Repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&rating.Rating{}).Where("voter_id = ?", userID).Distinct().Pluck("expert_id", &affected).Error; err != nil {
			return err
		}
		if err := s.Ratings.WithTx(tx).DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if err := s.Events.WithTx(tx).DeleteByExpert(ctx, userID); err != nil {
			return err
		}
		if err := s.TariffDB.WithTx(tx).DeleteSubscription(ctx, userID); err != nil {
			return err
		}
		return s.Repo.WithTx(tx).DeleteUser(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.Cache.Invalidate(ctx, append(affected, userID)...)
	return nil
}

// IsApproved 判断用户是否为已通过审核的专家
func (s *Service) IsApproved(ctx context.Context, userID int64) (bool, error) {
	return s.Repo.IsApproved(ctx, userID)
}

// GetUser 返回用户，不存在时返回nil
func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.Repo.GetUser(ctx, userID)
}

// Pending 返回待审核的专家申请
func (s *Service) Pending(ctx context.Context) ([]PendingApplication, error) {
	return s.Repo.ListPending(ctx)
}

// Users 分页返回全部用户（管理员）
func (s *Service) Users(ctx context.Context, page, size int) ([]UserListing, int64, error) {
	return s.Repo.ListUsers(ctx, page, size)
}

// Top 返回专家排行
func (s *Service) Top(ctx context.Context, f rating.RankFilter) ([]rating.RankedExpert, int64, error) {
	return s.Ratings.RankExperts(ctx, f)
}

// Profile 返回用户档案读模型，优先读缓存
func (s *Service) Profile(ctx context.Context, userID int64) (*ProfileView, error) {
	var cached ProfileView
	hit, err := s.Cache.Get(ctx, userID, &cached)
	if err != nil {
		s.Log.Warn("读取档案缓存失败", zap.Int64("user_id", userID), zap.Error(err))
	}
	if hit {
		return &cached, nil
	}

	view, err := s.buildProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Set(ctx, userID, view); err != nil {
		s.Log.Warn("写入档案缓存失败", zap.Int64("user_id", userID), zap.Error(err))
	}
	return view, nil
}

func (s *Service) buildProfile(ctx context.Context, userID int64) (*ProfileView, error) {
	u, err := s.Repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}

	view := &ProfileView{User: *u, IsAdmin: s.IsAdmin(userID)}
	profile, err := s.Repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return view, nil
	}
	view.Expert = profile

	if view.Rating, err = s.Ratings.Aggregate(ctx, userID); err != nil {
		return nil, err
	}
	if view.EventsCount, err = s.Events.CountApproved(ctx, userID); err != nil {
		return nil, err
	}
	if view.Usage, err = s.Tariffs.Usage(ctx, userID, s.now()); err != nil {
		return nil, err
	}
	return view, nil
}

// SetNotifications 更新用户是否接收通知
func (s *Service) SetNotifications(ctx context.Context, userID int64, allow bool) error {
	res := s.Repo.DB().WithContext(ctx).Model(&User{}).Where("vk_id = ?", userID).Update("allow_notifications", allow)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.Cache.Invalidate(ctx, userID)
	return nil
}
