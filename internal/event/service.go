package event

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/platform/lock"
	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/pkg/timewindow"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = apperr.New(apperr.KindNotFound, "event_not_found", "活动不存在")
	ErrNotOwner       = apperr.New(apperr.KindForbidden, "not_event_owner", "只有活动的创建者可以执行此操作")
	ErrSlotTaken      = apperr.New(apperr.KindConflict, "slot_taken", "该促销词在所选时间段已被占用")
	ErrMonthlyLimit   = apperr.New(apperr.KindConflict, "monthly_limit_reached", "本月创建活动的数量已达上限")
	ErrDurationLimit  = apperr.New(apperr.KindValidation, "duration_limit_exceeded", "活动时长超过当前档位的上限")
	ErrStartInPast    = apperr.New(apperr.KindValidation, "start_in_past", "活动开始时间不能早于当前时间")
	ErrEmptyPromo     = apperr.New(apperr.KindValidation, "empty_promo_word", "促销词不能为空")
	ErrReasonRequired = apperr.New(apperr.KindValidation, "reason_required", "拒绝活动时必须填写原因")
	ErrNotLive        = apperr.New(apperr.KindConflict, "event_not_live", "活动当前不在投票时间内")
	ErrAlreadyStarted = apperr.New(apperr.KindConflict, "event_already_started", "活动已经开始，无法删除")
	ErrNotPending     = apperr.New(apperr.KindConflict, "event_not_pending", "只能审核待审核状态的活动")
)

// CreationGate 是档位对活动创建的约束
type CreationGate interface {
	CheckEventCreationAllowed(ctx context.Context, expertID int64, now time.Time) (bool, error)
	MaxEventDurationMinutes(ctx context.Context, expertID int64) (int, error)
}

// Invalidator 使用户档案缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

// Tallier 统计活动中的投票
type Tallier interface {
	EventTallies(ctx context.Context, eventIDs []uint) (map[uint]rating.Tally, error)
}

// Options 是活动服务的可调参数
type Options struct {
	OverlapBuffer time.Duration
	LockHold      time.Duration
	LockWait      time.Duration
}

// Service 负责活动的创建、审核与投票窗口管理
type Service struct {
	repo     *Repository
	gate     CreationGate
	tallies  Tallier
	locker   lock.Locker
	cache    Invalidator
	notifier notify.Notifier
	validate *validator.Validate
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

func NewService(repo *Repository, gate CreationGate, tallies Tallier, locker lock.Locker, cache Invalidator, notifier notify.Notifier, log *zap.Logger, opts Options) *Service {
	return &Service{
		repo:     repo,
		gate:     gate,
		tallies:  tallies,
		locker:   locker,
		cache:    cache,
		notifier: notifier,
		validate: validator.New(),
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换服务使用的时钟
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func promoLockKey(promo string) string {
	return "event:promo:" + promo
}

func expertLockKey(expertID int64) string {
	return "event:expert:" + strconv.FormatInt(expertID, 10)
}

// CheckAvailability 判断候选窗口是否与同一促销词下的待审核或已通过活动冲突。
// 候选窗口两端各扩展缓冲时长后，与现有活动的原始窗口比较。
func (s *Service) CheckAvailability(ctx context.Context, promo string, start time.Time, durationMinutes int) (bool, error) {
	word := NormalizePromo(promo)
	if word == "" {
		return false, ErrEmptyPromo
	}

	existing, err := s.repo.FindByPromo(ctx, word, StatusPending, StatusApproved)
	if err != nil {
		return false, err
	}

	candStart, candEnd := timewindow.Expand(start, timewindow.End(start, durationMinutes), s.opts.OverlapBuffer)
	for _, e := range existing {
		if timewindow.Overlaps(candStart, candEnd, e.StartsAt, e.EndsAt()) {
			return false, nil
		}
	}
	return true, nil
}

// Create 创建一个待审核的活动。
// 先锁专家再锁促销词：前者保证月度额度在并发下不被突破，后者保证同一促销词的时间段不重叠。
func (s *Service) Create(ctx context.Context, expertID int64, in CreateInput) (*Event, error) {
	// 1. 输入校验
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.Validation("invalid_event", "活动参数无效: %s", err.Error())
	}
	word := NormalizePromo(in.PromoWord)
	if word == "" {
		return nil, ErrEmptyPromo
	}
	now := s.now()
	start := in.StartsAt.UTC()
	if start.Before(now) {
		return nil, ErrStartInPast
	}

	var created *Event
	err := lock.WithLock(ctx, s.locker, expertLockKey(expertID), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
		return lock.WithLock(ctx, s.locker, promoLockKey(word), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
			// 2. 档位额度与时长上限
			allowed, err := s.gate.CheckEventCreationAllowed(ctx, expertID, now)
			if err != nil {
				return err
			}
			if !allowed {
				return ErrMonthlyLimit
			}
			maxMinutes, err := s.gate.MaxEventDurationMinutes(ctx, expertID)
			if err != nil {
				return err
			}
			if in.DurationMinutes > maxMinutes {
				return ErrDurationLimit.WithMessage("活动时长不能超过 %d 分钟", maxMinutes)
			}

			// 3. 持有锁时重新检查时间段
			available, err := s.CheckAvailability(ctx, word, start, in.DurationMinutes)
			if err != nil {
				return err
			}
			if !available {
				return ErrSlotTaken
			}

			// 4. 写入
			e := &Event{
				ExpertID:             expertID,
				Name:                 strings.TrimSpace(in.Name),
				Description:          in.Description,
				PromoWord:            word,
				StartsAt:             start,
				DurationMinutes:      in.DurationMinutes,
				Status:               StatusPending,
				IsPrivate:            in.IsPrivate,
				EventLink:            in.EventLink,
				VoterThankYouMessage: in.VoterThankYouMessage,
				SendReminder:         in.SendReminder,
				CreatedAt:            now,
			}
			if err := s.repo.Create(ctx, e); err != nil {
				return err
			}
			created = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, expertID)
	s.notifier.NotifyAdmins(notify.KindEventModeration, notify.Params{
		"event": created.Name,
		"promo": created.PromoWord,
		"start": created.StartsAt.Format("02.01.2006 15:04 UTC"),
	})
	return created, nil
}

func (s *Service) mustFind(ctx context.Context, id uint) (*Event, error) {
	e, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get 按ID返回活动
func (s *Service) Get(ctx context.Context, id uint) (*Event, error) {
	return s.mustFind(ctx, id)
}

// Approve 审核通过活动。只有待审核的活动可以通过，已拒绝的活动不会重新占用时间段。
func (s *Service) Approve(ctx context.Context, id uint) (*Event, error) {
	e, err := s.moderate(ctx, id, map[string]any{"status": StatusApproved, "rejection_reason": ""})
	if err != nil {
		return nil, err
	}
	e.Status, e.RejectionReason = StatusApproved, ""

	s.cache.Invalidate(ctx, e.ExpertID)
	s.notifier.Notify(e.ExpertID, notify.KindEventApproved, notify.Params{"event": e.Name, "promo": e.PromoWord})
	return e, nil
}

// Reject 拒绝待审核的活动，原因必填
func (s *Service) Reject(ctx context.Context, id uint, reason string) (*Event, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	e, err := s.moderate(ctx, id, map[string]any{"status": StatusRejected, "rejection_reason": reason})
	if err != nil {
		return nil, err
	}
	e.Status, e.RejectionReason = StatusRejected, reason

	s.cache.Invalidate(ctx, e.ExpertID)
	s.notifier.Notify(e.ExpertID, notify.KindEventRejected, notify.Params{"event": e.Name, "reason": reason})
	return e, nil
}

// moderate 在促销词锁内把待审核活动切换到新状态，与创建和投票使用同一把锁
func (s *Service) moderate(ctx context.Context, id uint, fields map[string]any) (*Event, error) {
	e, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	err = lock.WithLock(ctx, s.locker, promoLockKey(e.PromoWord), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
		ok, err := s.repo.TransitionStatus(ctx, id, StatusPending, fields)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Stop 提前结束正在进行的投票：时长被截断为已经过去的整分钟数。
// 在促销词锁内重新读取活动后再截断；投票在写入前同样按ID重新读取活动。
func (s *Service) Stop(ctx context.Context, id uint, callerID int64) (*Event, error) {
	e, err := s.mustFind(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ExpertID != callerID {
		return nil, ErrNotOwner
	}

	err = lock.WithLock(ctx, s.locker, promoLockKey(e.PromoWord), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
		current, err := s.mustFind(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if current.Status != StatusApproved || !timewindow.IsOpen(now, current.StartsAt, current.DurationMinutes) {
			return ErrNotLive
		}
		elapsed := int(now.Sub(current.StartsAt) / time.Minute)
		if err := s.repo.UpdateFields(ctx, id, map[string]any{"duration_minutes": elapsed}); err != nil {
			return err
		}
		current.DurationMinutes = elapsed
		e = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, e.ExpertID)
	return e, nil
}

// Delete 删除尚未开始的活动
func (s *Service) Delete(ctx context.Context, id uint, callerID int64) error {
	e, err := s.mustFind(ctx, id)
	if err != nil {
		return err
	}
	if e.ExpertID != callerID {
		return ErrNotOwner
	}
	if !s.now().Before(e.StartsAt) {
		return ErrAlreadyStarted
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, e.ExpertID)
	return nil
}

// GetByPromo 返回该促销词下此刻正在投票的已通过活动，多个时取最早开始的；没有时返回nil
func (s *Service) GetByPromo(ctx context.Context, promo string, now time.Time) (*Event, error) {
	word := NormalizePromo(promo)
	if word == "" {
		return nil, nil
	}
	events, err := s.repo.FindByPromo(ctx, word, StatusApproved)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if timewindow.IsOpen(now, events[i].StartsAt, events[i].DurationMinutes) {
			return &events[i], nil
		}
	}
	return nil, nil
}

// FindForStatus 为状态查询挑选活动：正在进行的优先，其次是最近的未开始活动，最后是最近结束的活动
func (s *Service) FindForStatus(ctx context.Context, promo string, now time.Time) (*Event, error) {
	word := NormalizePromo(promo)
	if word == "" {
		return nil, nil
	}
	events, err := s.repo.FindByPromo(ctx, word, StatusApproved)
	if err != nil {
		return nil, err
	}

	var upcoming, finished *Event
	for i := range events {
		e := &events[i]
		switch e.WindowStatus(now) {
		case timewindow.Active:
			return e, nil
		case timewindow.NotStarted:
			if upcoming == nil {
				upcoming = e
			}
		case timewindow.Finished:
			finished = e
		}
	}
	if upcoming != nil {
		return upcoming, nil
	}
	return finished, nil
}

// ListMine 返回专家的全部活动及其投票统计
func (s *Service) ListMine(ctx context.Context, expertID int64) ([]Summary, error) {
	events, err := s.repo.ListByExpert(ctx, expertID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, expertID, events)
}

func (s *Service) summarize(ctx context.Context, expertID int64, events []Event) ([]Summary, error) {
	ids := make([]uint, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	tallies, err := s.tallies.EventTallies(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("无法统计专家 %d 的活动投票: %w", expertID, err)
	}

	now := s.now()
	out := make([]Summary, 0, len(events))
	for _, e := range events {
		t := tallies[e.ID]
		out = append(out, Summary{
			Event:        e,
			WindowStatus: e.WindowStatus(now),
			EndsAt:       e.EndsAt(),
			Trust:        t.Trust,
			Distrust:     t.Distrust,
			VotesCount:   t.Votes(),
		})
	}
	return out, nil
}

// ListByExpert 返回专家已通过且公开的活动，按是否结束分为两组
func (s *Service) ListByExpert(ctx context.Context, expertID int64) (*ExpertEvents, error) {
	events, err := s.repo.ListPublicByExpert(ctx, expertID)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summarize(ctx, expertID, events)
	if err != nil {
		return nil, err
	}

	out := &ExpertEvents{Current: []Summary{}, Past: []Summary{}}
	for _, sum := range summaries {
		if sum.WindowStatus == timewindow.Finished {
			out.Past = append(out.Past, sum)
			continue
		}
		out.Current = append(out.Current, sum)
	}
	// 仓库按开始时间倒序返回，未结束的活动改为最近的在前
	for i, j := 0, len(out.Current)-1; i < j; i, j = i+1, j-1 {
		out.Current[i], out.Current[j] = out.Current[j], out.Current[i]
	}
	return out, nil
}

// Pending 返回待审核的活动
func (s *Service) Pending(ctx context.Context) ([]Event, error) {
	return s.repo.ListPending(ctx)
}

// PublicFeed 返回公开的即将开始的活动
func (s *Service) PublicFeed(ctx context.Context, page, size int) ([]Event, int64, error) {
	return s.repo.ListPublicUpcoming(ctx, s.now(), page, size)
}

// SendDueReminders 通知即将开始的活动的创建者，返回发送的数量
func (s *Service) SendDueReminders(ctx context.Context, lead time.Duration) (int, error) {
	due, err := s.repo.DueReminders(ctx, s.now(), lead)
	if err != nil {
		return 0, err
	}
	for _, e := range due {
		if err := s.repo.UpdateFields(ctx, e.ID, map[string]any{"reminder_sent": true}); err != nil {
			return 0, err
		}
		s.notifier.Notify(e.ExpertID, notify.KindEventReminder, notify.Params{
			"event": e.Name,
			"promo": e.PromoWord,
			"start": e.StartsAt.Format("15:04 UTC"),
		})
	}
	return len(due), nil
}
