// Package notify 异步地向VK用户发送站内消息。
// 通知是尽力而为的：队列已满或发送失败只记录日志，不影响业务结果。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/platform/config"
	"github.com/SlpAus/expert-rating-backend/pkg/lifecycle"
	"go.uber.org/zap"
)

// Notifier 是业务层依赖的通知出口
type Notifier interface {
	Notify(userID int64, kind Kind, params Params)
	NotifyAdmins(kind Kind, params Params)
}

// Discard 丢弃所有通知
type Discard struct{}

func (Discard) Notify(int64, Kind, Params) {}
func (Discard) NotifyAdmins(Kind, Params)  {}

type message struct {
	userID int64
	kind   Kind
	text   string
}

// VKNotifier 通过单个后台协程串行调用 messages.send
type VKNotifier struct {
	client     *http.Client
	apiURL     string
	apiVersion string
	token      string
	admins     []int64
	log        *zap.Logger

	queue         chan message
	isShutdown    bool
	shutdownMutex sync.Mutex
}

func NewVKNotifier(cfg config.VKConfig, admins []int64, log *zap.Logger) *VKNotifier {
	return &VKNotifier{
		client:     &http.Client{Timeout: 10 * time.Second},
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiVersion: cfg.APIVersion,
		token:      cfg.BotToken,
		admins:     admins,
		log:        log,
		queue:      make(chan message, 1000),
	}
}

// Notify 将通知放入发送队列，队列已满或已停机时直接丢弃
func (n *VKNotifier) Notify(userID int64, kind Kind, params Params) {
	text := Render(kind, params)
	if text == "" {
		n.log.Warn("未知的通知类型", zap.String("kind", string(kind)))
		return
	}

	n.shutdownMutex.Lock()
	defer n.shutdownMutex.Unlock()
	if n.isShutdown {
		n.log.Warn("通知队列已关闭，放弃发送", zap.Int64("user_id", userID), zap.String("kind", string(kind)))
		return
	}
	select {
	case n.queue <- message{userID: userID, kind: kind, text: text}:
	default:
		n.log.Warn("通知队列已满，放弃发送", zap.Int64("user_id", userID), zap.String("kind", string(kind)))
	}
}

// NotifyAdmins 向配置中的每位管理员发送同一条通知
func (n *VKNotifier) NotifyAdmins(kind Kind, params Params) {
	for _, id := range n.admins {
		n.Notify(id, kind, params)
	}
}

// Start 运行发送循环，响应两阶段停机：
// 收到优雅停机信号后关闭队列并发送剩余消息，收到强制停机信号则立即放弃。
func (n *VKNotifier) Start(gracefulHandle, forcefulHandle *lifecycle.Handle) {
	defer gracefulHandle.Close()
	defer forcefulHandle.Close()
	n.log.Info("通知发送器已启动")

	for {
		select {
		case <-gracefulHandle.Done():
			n.drain(forcefulHandle)
			n.log.Info("通知发送器已停止")
			return
		case msg := <-n.queue:
			n.deliver(gracefulHandle.Ctx(), msg)
		}
	}
}

func (n *VKNotifier) drain(forcefulHandle *lifecycle.Handle) {
	n.shutdownMutex.Lock()
	n.isShutdown = true
	close(n.queue)
	n.shutdownMutex.Unlock()

	for msg := range n.queue {
		select {
		case <-forcefulHandle.Done():
			n.log.Warn("收到强制停机信号，剩余通知被放弃", zap.Int("remaining", len(n.queue)+1))
			return
		default:
		}
		n.deliver(forcefulHandle.Ctx(), msg)
	}
}

func (n *VKNotifier) deliver(ctx context.Context, msg message) {
	if err := n.send(ctx, msg); err != nil {
		n.log.Warn("发送通知失败",
			zap.Int64("user_id", msg.userID),
			zap.String("kind", string(msg.kind)),
			zap.Error(err))
	}
}

type vkResponse struct {
	Error *struct {
		Code    int    `json:"error_code"`
		Message string `json:"error_msg"`
	} `json:"error"`
}

func (n *VKNotifier) send(ctx context.Context, msg message) error {
	if n.token == "" {
		n.log.Debug("未配置机器人令牌，跳过通知", zap.Int64("user_id", msg.userID))
		return nil
	}

	form := url.Values{}
	form.Set("user_id", strconv.FormatInt(msg.userID, 10))
	form.Set("message", msg.text)
	form.Set("random_id", strconv.FormatInt(int64(rand.Int31()), 10))
	form.Set("access_token", n.token)
	form.Set("v", n.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL+"/messages.send", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("VK接口返回状态码 %d", resp.StatusCode)
	}
	var body vkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("无法解析VK响应: %w", err)
	}
	if body.Error != nil {
		return fmt.Errorf("VK错误 %d: %s", body.Error.Code, body.Error.Message)
	}
	return nil
}
