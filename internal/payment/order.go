package payment

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/expert"
	"github.com/SlpAus/expert-rating-backend/internal/platform/database"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VK支付通知的类型，带 _test 后缀的是测试支付
const (
	NotifyGetItem         = "get_item"
	NotifyGetItemTest     = "get_item_test"
	NotifyOrderStatus     = "order_status_change"
	NotifyOrderStatusTest = "order_status_change_test"

	orderStatusChargeable = "chargeable"
	orderEventType        = "order_chargeable"
	orderPeriod           = 30 * 24 * time.Hour
)

// VK支付接口约定的错误码
const (
	orderErrCommon    = 1
	orderErrSignature = 10
	orderErrItem      = 20
	orderErrUnknown   = 100
)

// OrderReply 是写回给VK支付接口的JSON，response 与 error 二选一
type OrderReply struct {
	Response any         `json:"response,omitempty"`
	Error    *OrderError `json:"error,omitempty"`
}

type OrderError struct {
	Code     int    `json:"error_code"`
	Message  string `json:"error_msg"`
	Critical bool   `json:"critical"`
}

// ItemInfo 是 get_item 的响应，价格以VK投票计
type ItemInfo struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	Price  int64  `json:"price"`
}

// OrderAck 确认订单已被处理
type OrderAck struct {
	OrderID    int64 `json:"order_id"`
	AppOrderID int64 `json:"app_order_id"`
}

func orderFailure(code int, msg string, critical bool) OrderReply {
	return OrderReply{Error: &OrderError{Code: code, Message: msg, Critical: critical}}
}

// HandleOrder 处理一次VK支付通知。业务错误编码进 OrderReply，不作为 error 返回。
func (s *Service) HandleOrder(ctx context.Context, params url.Values) OrderReply {
	if s.opts.AppSecret != "" && !validOrderSignature(params, s.opts.AppSecret) {
		s.log.Warn("支付通知签名错误", zap.String("order_id", params.Get("order_id")))
		return orderFailure(orderErrSignature, "Invalid signature.", true)
	}

	switch params.Get("notification_type") {
	case NotifyGetItem, NotifyGetItemTest:
		return s.describeItem(ctx, params.Get("item"))
	case NotifyOrderStatus, NotifyOrderStatusTest:
		return s.changeOrderStatus(ctx, params)
	default:
		s.log.Warn("未知的支付通知类型", zap.String("type", params.Get("notification_type")))
		return orderFailure(orderErrUnknown, "Unknown notification type.", true)
	}
}

// sellableTariff 把商品ID映射到可购买的档位，找不到时返回nil
func (s *Service) sellableTariff(ctx context.Context, item string) (*tariff.Tariff, error) {
	code, ok := tariff.CodeFromItem(item)
	if !ok {
		return nil, nil
	}
	t, err := s.tariffs.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.Sellable() {
		return nil, nil
	}
	return t, nil
}

func (s *Service) describeItem(ctx context.Context, item string) OrderReply {
	t, err := s.sellableTariff(ctx, item)
	if err != nil {
		s.log.Error("读取商品档位失败", zap.String("item", item), zap.Error(err))
		return orderFailure(orderErrCommon, "Technical error.", false)
	}
	if t == nil {
		s.log.Warn("请求了未知的商品", zap.String("item", item))
		return orderFailure(orderErrItem, "Item not found.", true)
	}
	return OrderReply{Response: ItemInfo{ItemID: item, Title: t.Name, Price: t.Price.IntPart()}}
}

func (s *Service) changeOrderStatus(ctx context.Context, params url.Values) OrderReply {
	orderID, err := strconv.ParseInt(params.Get("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		return orderFailure(orderErrCommon, "Invalid order_id.", true)
	}
	ack := OrderReply{Response: OrderAck{OrderID: orderID, AppOrderID: orderID}}
	if params.Get("status") != orderStatusChargeable {
		s.log.Info("订单状态无需处理", zap.Int64("order_id", orderID), zap.String("status", params.Get("status")))
		return ack
	}

	userID, err := strconv.ParseInt(params.Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return orderFailure(orderErrCommon, "Invalid user_id.", true)
	}
	item := params.Get("item")
	t, err := s.sellableTariff(ctx, item)
	if err != nil {
		s.log.Error("读取商品档位失败", zap.String("item", item), zap.Error(err))
		return orderFailure(orderErrCommon, "Technical error.", false)
	}
	if t == nil {
		return orderFailure(orderErrItem, "Item not found.", true)
	}

	if err := s.chargeOrder(ctx, orderID, userID, t, params); err != nil {
		s.log.Error("处理订单失败", zap.Int64("order_id", orderID), zap.Int64("user_id", userID), zap.Error(err))
		return orderFailure(orderErrCommon, "Technical error during processing.", false)
	}
	return ack
}

// chargeOrder 让已付款的订单生效一次：开通对应档位的订阅，有效期30天
func (s *Service) chargeOrder(ctx context.Context, orderID, userID int64, t *tariff.Tariff, params url.Values) error {
	eventID := "order:" + strconv.FormatInt(orderID, 10)

	// 1. 在Redis中占用处理标记，失败时回滚以便VK重试
	claim, err := s.claims.TryClaim(ctx, claimScope, eventID, s.opts.MarkerTTL)
	if err != nil {
		return err
	}
	if claim == nil {
		s.log.Info("重复的订单通知", zap.Int64("order_id", orderID))
		return nil
	}
	defer func() {
		if err := claim.RollbackUnlessCommitted(context.WithoutCancel(ctx)); err != nil {
			s.log.Error("回滚订单处理标记失败", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}()

	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("无法序列化订单 %d: %w", orderID, err)
	}
	next := s.now().Add(orderPeriod)

	// 2. 事件记录与订阅写在同一个事务里
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&Event{}).Where("event_id = ?", eventID).Count(&seen).Error; err != nil {
			return fmt.Errorf("无法查询订单 %d: %w", orderID, err)
		}
		if seen > 0 {
			return errAlreadyApplied
		}
		record := Event{EventID: eventID, Type: orderEventType, UserID: userID, Payload: datatypes.JSON(payload)}
		if err := tx.Create(&record).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return errAlreadyApplied
			}
			return fmt.Errorf("无法记录订单 %d: %w", orderID, err)
		}

		if err := s.experts.WithTx(tx).EnsureUser(ctx, &expert.User{VKID: userID}); err != nil {
			return err
		}
		return s.tariffs.WithTx(tx).ActivateSubscription(ctx, userID, t.Price, &next)
	})
	if errors.Is(err, errAlreadyApplied) {
		claim.Commit()
		s.log.Info("订单已处理过", zap.Int64("order_id", orderID))
		return nil
	}
	if err != nil {
		return err
	}
	claim.Commit()

	// 3. 事务之外的副作用
	s.cache.Invalidate(ctx, userID)
	s.notifySubscriber(ctx, orderEventType, userID)
	s.log.Info("已开通订单档位",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID),
		zap.String("tariff", t.Code))
	return nil
}

// validOrderSignature 校验VK支付通知的签名：除 sig 外的参数按键名排序拼接成 k=v，
// 末尾追加应用密钥后取MD5
func validOrderSignature(params url.Values, secret string) bool {
	sig := params.Get("sig")
	if sig == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(orderSignature(params, secret)), []byte(sig)) == 1
}

func orderSignature(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "sig" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	b.WriteString(secret)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
