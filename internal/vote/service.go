// Package vote 实现投票提交流程：在按 (投票人, 范围) 加的分布式锁内校验活动窗口、
// 写入评分与互动历史，并在锁外通知专家、清除档案缓存。
package vote

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/event"
	"github.com/SlpAus/expert-rating-backend/internal/expert"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/platform/lock"
	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/pkg/timewindow"
	"go.uber.org/zap"
)

var (
	ErrScopeRequired   = apperr.New(apperr.KindValidation, "scope_required", "必须指定促销词或专家ID其中之一")
	ErrSelfVote        = apperr.New(apperr.KindForbidden, "self_vote", "不能给自己投票")
	ErrNoActiveEvent   = apperr.New(apperr.KindNotFound, "no_active_event", "该促销词当前没有进行中的活动")
	ErrEventNotFound   = apperr.New(apperr.KindNotFound, "event_not_found", "没有找到该促销词对应的活动")
	ErrExpertNotFound  = apperr.New(apperr.KindNotFound, "expert_not_found", "专家不存在或尚未通过审核")
	ErrCommentRequired = apperr.New(apperr.KindValidation, "comment_required", "投票必须附带评论")
	ErrCommentTooShort = apperr.New(apperr.KindValidation, "comment_too_short", "评论太短")
	ErrNoVote          = apperr.New(apperr.KindNotFound, "vote_not_found", "您尚未对该专家投票")
	ErrEventMismatch   = apperr.New(apperr.KindValidation, "event_mismatch", "活动不属于该专家")
)

// EventResolver 解析投票所针对的活动
type EventResolver interface {
	GetByPromo(ctx context.Context, promo string, now time.Time) (*event.Event, error)
	FindForStatus(ctx context.Context, promo string, now time.Time) (*event.Event, error)
	Get(ctx context.Context, id uint) (*event.Event, error)
}

// ExpertDirectory 查询专家与用户信息
type ExpertDirectory interface {
	IsApproved(ctx context.Context, userID int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*expert.User, error)
}

// VoteLimiter 返回专家当前档位下每个活动的投票上限
type VoteLimiter interface {
	MaxVotesPerEvent(ctx context.Context, expertID int64) (int, error)
}

// ResultStore 保存并重放带幂等键的请求结果
type ResultStore interface {
	Lookup(ctx context.Context, scope, key string, out any) (bool, error)
	Save(ctx context.Context, scope, key string, result any) error
}

// Invalidator 使用户档案缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

// Options 是投票流程的可调参数
type Options struct {
	LockHold                  time.Duration
	LockWait                  time.Duration
	MinCommunityCommentLength int
	RequireEventComment       bool
}

type Service struct {
	ratings  *rating.Repository
	events   EventResolver
	experts  ExpertDirectory
	limits   VoteLimiter
	locker   lock.Locker
	results  ResultStore
	cache    Invalidator
	notifier notify.Notifier
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

// Deps 汇总投票服务的依赖
type Deps struct {
	Ratings  *rating.Repository
	Events   EventResolver
	Experts  ExpertDirectory
	Limits   VoteLimiter
	Locker   lock.Locker
	Results  ResultStore
	Cache    Invalidator
	Notifier notify.Notifier
	Log      *zap.Logger
}

func NewService(deps Deps, opts Options) *Service {
	return &Service{
		ratings:  deps.Ratings,
		events:   deps.Events,
		experts:  deps.Experts,
		limits:   deps.Limits,
		locker:   deps.Locker,
		results:  deps.Results,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		log:      deps.Log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换服务使用的时钟
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func promoLockKey(voterID int64, promo string) string {
	return "vote:" + strconv.FormatInt(voterID, 10) + ":promo:" + promo
}

func pairLockKey(voterID, expertID int64) string {
	return "vote:" + strconv.FormatInt(voterID, 10) + ":expert:" + strconv.FormatInt(expertID, 10)
}

func idempotencyScope(voterID int64) string {
	return "vote:" + strconv.FormatInt(voterID, 10)
}

// Submit 提交一次投票。idemKey 非空时，相同键的重复请求直接返回首次的结果。
func (s *Service) Submit(ctx context.Context, voterID int64, in SubmitInput, idemKey string) (*Result, error) {
	// 1. 校验请求本身
	value, err := rating.ParseValue(in.VoteType)
	if err != nil {
		return nil, err
	}
	in.PromoWord = event.NormalizePromo(in.PromoWord)
	if in.IsEventScope() == (in.ExpertID != 0) {
		return nil, ErrScopeRequired
	}

	// 2. 加锁前检查幂等键
	if replay, err := s.replay(ctx, voterID, idemKey); err != nil || replay != nil {
		return replay, err
	}

	// 3. 在锁内执行
	var res *Result
	var replayed bool
	if in.IsEventScope() {
		err = lock.WithLock(ctx, s.locker, promoLockKey(voterID, in.PromoWord), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
			e, err := s.events.GetByPromo(ctx, in.PromoWord, s.now())
			if err != nil {
				return err
			}
			if e == nil {
				return ErrNoActiveEvent
			}
			res, replayed, err = s.submitLocked(ctx, voterID, e.ExpertID, e, value, in.Comment, idemKey)
			return err
		})
	} else {
		res, replayed, err = s.submitLocked(ctx, voterID, in.ExpertID, nil, value, in.Comment, idemKey)
	}
	if err != nil {
		return nil, err
	}
	if replayed {
		return res, nil
	}

	// 4. 锁外的副作用
	s.afterVote(ctx, voterID, res)
	return res, nil
}

func (s *Service) replay(ctx context.Context, voterID int64, idemKey string) (*Result, error) {
	if idemKey == "" {
		return nil, nil
	}
	var cached Result
	hit, err := s.results.Lookup(ctx, idempotencyScope(voterID), idemKey, &cached)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, nil
	}
	return &cached, nil
}

// submitLocked 在 (投票人, 专家) 锁内完成校验与写入。
// 活动投票与社区投票共享同一行评分，因此两条路径都要持有这把锁。
func (s *Service) submitLocked(ctx context.Context, voterID, expertID int64, e *event.Event, value rating.Value, comment, idemKey string) (res *Result, replayed bool, err error) {
	err = lock.WithLock(ctx, s.locker, pairLockKey(voterID, expertID), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
		// 等锁期间可能已有相同幂等键的请求完成
		replay, err := s.replay(ctx, voterID, idemKey)
		if err != nil {
			return err
		}
		if replay != nil {
			res, replayed = replay, true
			return nil
		}

		if voterID == expertID {
			return ErrSelfVote
		}
		now := s.now()
		if e != nil {
			// 锁内按ID重新读取活动，等锁期间活动可能已被提前结束
			current, err := s.events.Get(ctx, e.ID)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindNotFound {
					return ErrNoActiveEvent
				}
				return err
			}
			if current.Status != event.StatusApproved || !timewindow.IsOpen(now, current.StartsAt, current.DurationMinutes) {
				return ErrNoActiveEvent
			}
			e = current
		} else {
			ok, err := s.experts.IsApproved(ctx, expertID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrExpertNotFound
			}
		}
		comment = strings.TrimSpace(comment)
		if err := s.checkComment(e != nil, comment); err != nil {
			return err
		}

		rec := &rating.InteractionRecord{
			ExpertID:       expertID,
			VoterID:        voterID,
			Comment:        comment,
			RatingSnapshot: value,
			CreatedAt:      now,
		}
		if e != nil {
			id := e.ID
			rec.EventID = &id
		}

		var prev *rating.Value
		var agg rating.Aggregate
		err = s.ratings.Transaction(ctx, func(tx *rating.Repository) error {
			var err error
			if prev, err = tx.UpsertVote(ctx, expertID, voterID, value); err != nil {
				return err
			}
			if err := tx.AppendInteraction(ctx, rec); err != nil {
				return err
			}
			agg, err = tx.Aggregate(ctx, expertID)
			return err
		})
		if err != nil {
			return err
		}

		res = &Result{
			RecordID:  rec.ID,
			ExpertID:  expertID,
			EventID:   rec.EventID,
			Vote:      value.String(),
			Rating:    agg,
			CreatedAt: now,
		}
		if prev != nil {
			res.Previous = prev.String()
		}
		if e != nil {
			res.ThankYouMessage = e.VoterThankYouMessage
		}

		if idemKey != "" {
			if err := s.results.Save(ctx, idempotencyScope(voterID), idemKey, res); err != nil {
				s.log.Warn("保存幂等结果失败", zap.Int64("voter_id", voterID), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return res, replayed, nil
}

func (s *Service) checkComment(eventScope bool, comment string) error {
	if eventScope {
		if s.opts.RequireEventComment && comment == "" {
			return ErrCommentRequired
		}
		return nil
	}
	if comment == "" {
		return ErrCommentRequired
	}
	if n := utf8.RuneCountInString(comment); n < s.opts.MinCommunityCommentLength {
		return ErrCommentTooShort.WithMessage("评论至少需要 %d 个字符，当前为 %d", s.opts.MinCommunityCommentLength, n)
	}
	return nil
}

func (s *Service) afterVote(ctx context.Context, voterID int64, res *Result) {
	s.notifier.Notify(res.ExpertID, notify.KindNewVote, notify.Params{
		"vote":  voteLabel(res.Vote),
		"voter": s.displayName(ctx, voterID),
		"net":   strconv.FormatInt(res.Rating.Net, 10),
	})
	s.cache.Invalidate(ctx, voterID, res.ExpertID)
}

func voteLabel(v string) string {
	if v == rating.Trust.String() {
		return "Доверяю"
	}
	return "Не доверяю"
}

func (s *Service) displayName(ctx context.Context, userID int64) string {
	u, err := s.experts.GetUser(ctx, userID)
	if err != nil {
		s.log.Warn("读取投票人信息失败", zap.Int64("user_id", userID), zap.Error(err))
	}
	if u == nil || strings.TrimSpace(u.FirstName+u.LastName) == "" {
		return "id" + strconv.FormatInt(userID, 10)
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Withdraw 撤回投票人对专家的当前评价，并追加一条评价快照为0的互动记录
func (s *Service) Withdraw(ctx context.Context, voterID int64, in WithdrawInput) error {
	if in.EventID != nil {
		e, err := s.events.Get(ctx, *in.EventID)
		if err != nil {
			return err
		}
		if e.ExpertID != in.ExpertID {
			return ErrEventMismatch
		}
	}

	var agg rating.Aggregate
	err := lock.WithLock(ctx, s.locker, pairLockKey(voterID, in.ExpertID), s.opts.LockHold, s.opts.LockWait, s.log, func() error {
		return s.ratings.Transaction(ctx, func(tx *rating.Repository) error {
			removed, err := tx.WithdrawVote(ctx, in.ExpertID, voterID)
			if err != nil {
				return err
			}
			if !removed {
				return ErrNoVote
			}
			if err := tx.AppendInteraction(ctx, &rating.InteractionRecord{
				ExpertID:       in.ExpertID,
				VoterID:        voterID,
				EventID:        in.EventID,
				RatingSnapshot: rating.Neutral,
				CreatedAt:      s.now(),
			}); err != nil {
				return err
			}
			agg, err = tx.Aggregate(ctx, in.ExpertID)
			return err
		})
	})
	if err != nil {
		return err
	}

	s.notifier.Notify(in.ExpertID, notify.KindVoteWithdrawn, notify.Params{
		"voter": s.displayName(ctx, voterID),
		"net":   strconv.FormatInt(agg.Net, 10),
	})
	s.cache.Invalidate(ctx, voterID, in.ExpertID)
	return nil
}

// Status 返回投票页面所需的活动状态。投票上限只作为提示，不阻止投票。
func (s *Service) Status(ctx context.Context, voterID int64, promo string) (*EventStatus, error) {
	now := s.now()
	e, err := s.events.FindForStatus(ctx, promo, now)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrEventNotFound
	}

	tallies, err := s.ratings.EventTallies(ctx, []uint{e.ID})
	if err != nil {
		return nil, err
	}
	hasVoted, err := s.ratings.HasActiveEventVote(ctx, e.ID, voterID)
	if err != nil {
		return nil, err
	}
	limit, err := s.limits.MaxVotesPerEvent(ctx, e.ExpertID)
	if err != nil {
		return nil, err
	}
	owner, err := s.experts.GetUser(ctx, e.ExpertID)
	if err != nil {
		return nil, err
	}

	votes := tallies[e.ID].Votes()
	st := &EventStatus{
		EventID:           e.ID,
		Name:              e.Name,
		Description:       e.Description,
		PromoWord:         e.PromoWord,
		EventLink:         e.EventLink,
		StartsAt:          e.StartsAt,
		EndsAt:            e.EndsAt(),
		Window:            e.WindowStatus(now),
		HasVoted:          hasVoted,
		VotesCount:        votes,
		VotesLimit:        limit,
		VotesLimitReached: limit > 0 && votes >= int64(limit),
		Expert:            ExpertCard{VKID: e.ExpertID},
	}
	if st.Window == timewindow.Active {
		st.SecondsRemaining = int64(st.EndsAt.Sub(now) / time.Second)
	}
	if owner != nil {
		st.Expert.FirstName = owner.FirstName
		st.Expert.LastName = owner.LastName
		st.Expert.PhotoURL = owner.PhotoURL
	}
	return st, nil
}

// History 返回投票人的互动历史，最新的在前
func (s *Service) History(ctx context.Context, voterID int64, page, size int) ([]rating.InteractionRecord, int64, error) {
	return s.ratings.ListByVoter(ctx, voterID, page, size)
}

// Received 返回专家收到的互动历史，最新的在前
func (s *Service) Received(ctx context.Context, expertID int64, page, size int) ([]rating.InteractionRecord, int64, error) {
	return s.ratings.ListByExpert(ctx, expertID, page, size)
}
