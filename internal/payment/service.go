// Package payment 处理VK Donut订阅回调与VK支付订单通知，把订阅状态写入档位模块。
// 每个回调事件或订单由Redis处理标记与 payment_events 表的唯一约束共同保证只生效一次。
package payment

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/expert"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/platform/database"
	"github.com/SlpAus/expert-rating-backend/internal/platform/idempotency"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidSecret  = apperr.New(apperr.KindForbidden, "invalid_secret", "回调密钥错误")
	ErrInvalidPayload = apperr.New(apperr.KindValidation, "invalid_payload", "回调数据格式错误")
)

const claimScope = "payment"

var errAlreadyApplied = errors.New("支付事件已处理")

// Invalidator 使用户档案缓存失效
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64)
}

// Options 是回调处理的配置
type Options struct {
	Secret           string
	ConfirmationCode string
	// AppSecret 为空时不校验支付通知的签名
	AppSecret string
	MarkerTTL time.Duration
}

type Service struct {
	db       *gorm.DB
	experts  *expert.Repository
	tariffs  *tariff.Repository
	plans    *tariff.Service
	claims   *idempotency.Store
	cache    Invalidator
	notifier notify.Notifier
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

func NewService(db *gorm.DB, experts *expert.Repository, tariffs *tariff.Repository, plans *tariff.Service,
	claims *idempotency.Store, cache Invalidator, notifier notify.Notifier, log *zap.Logger, opts Options) *Service {
	return &Service{
		db:       db,
		experts:  experts,
		tariffs:  tariffs,
		plans:    plans,
		claims:   claims,
		cache:    cache,
		notifier: notifier,
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换服务使用的时钟
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// HandleCallback 处理一次VK回调，返回需要原样写回给VK的文本
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (string, error) {
	if cb.Type == TypeConfirmation {
		return s.opts.ConfirmationCode, nil
	}
	if s.opts.Secret != "" && subtle.ConstantTimeCompare([]byte(cb.Secret), []byte(s.opts.Secret)) != 1 {
		return "", ErrInvalidSecret
	}

	switch cb.Type {
	case TypeDonutCreate, TypeDonutProlonged, TypeDonutPriceChanged,
		TypeDonutExpired, TypeDonutCancelled:
	default:
		s.log.Debug("忽略未处理的回调类型", zap.String("type", cb.Type))
		return defaultCallbackResponse, nil
	}

	var obj donutObject
	if err := json.Unmarshal(cb.Object, &obj); err != nil || obj.UserID == 0 {
		return "", ErrInvalidPayload
	}

	// 1. 在Redis中占用处理标记，失败时回滚以便VK重试
	eventID := callbackID(cb)
	claim, err := s.claims.TryClaim(ctx, claimScope, eventID, s.opts.MarkerTTL)
	if err != nil {
		return "", err
	}
	if claim == nil {
		s.log.Info("重复的支付回调", zap.String("event_id", eventID))
		return defaultCallbackResponse, nil
	}
	defer func() {
		if err := claim.RollbackUnlessCommitted(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("回滚支付处理标记失败", zap.String("event_id", eventID), zap.Error(err))
		}
	}()

	// 2. 在一个事务中写入事件记录与订阅状态
	applied, err := s.apply(ctx, cb, eventID, obj)
	if err != nil {
		return "", err
	}
	claim.Commit()
	if !applied {
		s.log.Info("支付事件已处理过", zap.String("event_id", eventID))
		return defaultCallbackResponse, nil
	}

	// 3. 事务之外的副作用
	s.cache.Invalidate(ctx, obj.UserID)
	s.notifySubscriber(ctx, cb.Type, obj.UserID)
	s.log.Info("已处理支付回调",
		zap.String("type", cb.Type),
		zap.Int64("user_id", obj.UserID),
		zap.String("event_id", eventID))
	return defaultCallbackResponse, nil
}

// callbackID 优先使用VK的 event_id，缺失时以请求内容的哈希代替
func callbackID(cb Callback) string {
	if cb.EventID != "" {
		return cb.EventID
	}
	sum := sha256.Sum256(append([]byte(cb.Type+":"), cb.Object...))
	return hex.EncodeToString(sum[:])
}

func (s *Service) apply(ctx context.Context, cb Callback, eventID string, obj donutObject) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 事件记录已存在说明Redis标记已过期但事件早已处理
		var seen int64
		if err := tx.Model(&Event{}).Where("event_id = ?", eventID).Count(&seen).Error; err != nil {
			return fmt.Errorf("无法查询支付事件 %s: %w", eventID, err)
		}
		if seen > 0 {
			return errAlreadyApplied
		}
		record := Event{EventID: eventID, Type: cb.Type, UserID: obj.UserID, Payload: datatypes.JSON(cb.Object)}
		if err := tx.Create(&record).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return errAlreadyApplied
			}
			return fmt.Errorf("无法记录支付事件 %s: %w", eventID, err)
		}

		tariffs := s.tariffs.WithTx(tx)
		switch cb.Type {
		case TypeDonutExpired, TypeDonutCancelled:
			status := tariff.StatusExpired
			if cb.Type == TypeDonutCancelled {
				status = tariff.StatusCancelled
			}
			if err := tariffs.DeactivateSubscription(ctx, obj.UserID, status); err != nil {
				return err
			}
		default:
			// 订阅需要对应的用户行，未知用户先建一个占位用户
			if err := s.experts.WithTx(tx).EnsureUser(ctx, &expert.User{
				VKID:      obj.UserID,
				FirstName: "Donut",
				LastName:  "User",
			}); err != nil {
				return err
			}
			amount, err := s.resolveAmount(ctx, tariffs, obj)
			if err != nil {
				return err
			}
			if err := tariffs.ActivateSubscription(ctx, obj.UserID, amount, obj.nextPayment()); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// resolveAmount 回调未携带金额时沿用已有订阅的金额
func (s *Service) resolveAmount(ctx context.Context, tariffs *tariff.Repository, obj donutObject) (decimal.Decimal, error) {
	if a := obj.amount(); a != nil {
		if a.IsNegative() {
			return decimal.Zero, ErrInvalidPayload
		}
		return *a, nil
	}
	sub, err := tariffs.GetSubscription(ctx, obj.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	if sub == nil {
		return decimal.Zero, nil
	}
	return sub.Amount, nil
}

func (s *Service) notifySubscriber(ctx context.Context, eventType string, userID int64) {
	u, err := s.experts.GetUser(ctx, userID)
	if err != nil {
		s.log.Warn("读取订阅用户失败", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if u == nil || !u.AllowNotifications {
		return
	}
	t, err := s.plans.EffectiveTariff(ctx, userID)
	if err != nil {
		s.log.Warn("计算订阅档位失败", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	kind := notify.KindSubscriptionActive
	if eventType == TypeDonutExpired || eventType == TypeDonutCancelled {
		kind = notify.KindSubscriptionEnded
	}
	s.notifier.Notify(userID, kind, notify.Params{"tariff": t.Name})
}
