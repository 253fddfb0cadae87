// Package identity 将客户端携带的VK访问令牌解析为VK用户ID。
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/platform/config"
	"github.com/zeromicro/go-zero/core/collection"
	"go.uber.org/zap"
)

var (
	ErrMissingToken = apperr.New(apperr.KindUnauthorized, "missing_token", "缺少Authorization请求头")
	ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "invalid_token", "访问令牌无效")
	ErrUnavailable  = apperr.New(apperr.KindUpstream, "identity_unavailable", "无法连接VK接口")
	ErrRateLimited  = apperr.New(apperr.KindContention, "identity_rate_limited", "VK接口请求过于频繁，请稍后重试")
)

// 频率限制对应的VK错误码
const vkRateLimitCode = 10

// Resolver 将访问令牌解析为用户ID
type Resolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// VKResolver 通过 secure.checkToken 校验令牌
type VKResolver struct {
	apiURL     string
	apiVersion string
	serviceKey string
	client     *http.Client
	log        *zap.Logger
}

func NewVKResolver(cfg config.VKConfig, log *zap.Logger) *VKResolver {
	return &VKResolver{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiVersion: cfg.APIVersion,
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

type checkTokenResponse struct {
	Response *struct {
		Success int   `json:"success"`
		UserID  int64 `json:"user_id"`
	} `json:"response"`
	Error *struct {
		Code   int    `json:"error_code"`
		Msg    string `json:"error_msg"`
		Reason string `json:"error_reason"`
	} `json:"error"`
}

// Resolve 调用VK接口校验令牌。网络故障返回 ErrUnavailable，VK拒绝令牌返回 ErrInvalidToken。
func (r *VKResolver) Resolve(ctx context.Context, token string) (int64, error) {
	q := url.Values{}
	q.Set("token", token)
	q.Set("access_token", r.serviceKey)
	q.Set("v", r.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL+"/secure.checkToken?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("无法构造令牌校验请求: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Error("VK接口请求失败", zap.Error(err))
		return 0, ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.log.Error("VK接口返回异常状态码", zap.Int("status", resp.StatusCode))
		return 0, ErrUnavailable
	}

	var body checkTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("无法解析VK令牌校验响应: %w", err)
	}
	if body.Error != nil {
		r.log.Warn("VK拒绝了访问令牌", zap.Int("code", body.Error.Code), zap.String("msg", body.Error.Msg))
		if body.Error.Code == vkRateLimitCode && strings.Contains(body.Error.Reason, "limit reached") {
			return 0, ErrRateLimited
		}
		return 0, ErrInvalidToken.WithMessage("访问令牌无效: %s", body.Error.Msg)
	}
	if body.Response == nil || body.Response.Success != 1 || body.Response.UserID == 0 {
		return 0, ErrInvalidToken
	}
	return body.Response.UserID, nil
}

// CachedResolver 在进程内按TTL缓存解析成功的令牌，失败结果不缓存
type CachedResolver struct {
	next  Resolver
	cache *collection.Cache
}

func NewCachedResolver(next Resolver, ttl time.Duration) (*CachedResolver, error) {
	cache, err := collection.NewCache(ttl, collection.WithName("identity"))
	if err != nil {
		return nil, fmt.Errorf("无法创建令牌缓存: %w", err)
	}
	return &CachedResolver{next: next, cache: cache}, nil
}

// Resolve 优先读取缓存，同一令牌的并发请求只会触发一次上游调用
func (r *CachedResolver) Resolve(ctx context.Context, token string) (int64, error) {
	sum := sha256.Sum256([]byte(token))
	v, err := r.cache.Take(hex.EncodeToString(sum[:]), func() (any, error) {
		return r.next.Resolve(ctx, token)
	})
	if err != nil {
		return 0, err
	}
	id, ok := v.(int64)
	if !ok {
		return 0, errors.New("令牌缓存中的值类型错误")
	}
	return id, nil
}
