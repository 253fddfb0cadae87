// Package cache 管理用户档案读模型的Redis缓存。
// 任何改变专家、评分、活动或订阅状态的操作都必须在返回成功之前同步调用 Invalidate。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const profileKeyPrefix = "user_profile:"

// ProfileKey 返回用户档案的缓存键
func ProfileKey(userID int64) string {
	return profileKeyPrefix + strconv.FormatInt(userID, 10)
}

// ProfileCache 是写穿失效的档案缓存，TTL只作为陈旧上限
type ProfileCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log *zap.Logger
}

func NewProfileCache(rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) *ProfileCache {
	return &ProfileCache{rdb: rdb, ttl: ttl, log: log}
}

// Get 读取缓存的档案，未命中返回 false
func (c *ProfileCache) Get(ctx context.Context, userID int64, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, ProfileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取用户 %d 的档案缓存失败: %w", userID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("解析用户 %d 的档案缓存失败: %w", userID, err)
	}
	return true, nil
}

// Set 写入档案缓存
func (c *ProfileCache) Set(ctx context.Context, userID int64, profile any) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("序列化用户 %d 的档案失败: %w", userID, err)
	}
	if err := c.rdb.Set(ctx, ProfileKey(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入用户 %d 的档案缓存失败: %w", userID, err)
	}
	return nil
}

// Invalidate 删除给定用户的档案缓存。失败只记录警告，不影响调用方的结果。
func (c *ProfileCache) Invalidate(ctx context.Context, userIDs ...int64) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, ProfileKey(id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("档案缓存失效失败", zap.Int64s("user_ids", userIDs), zap.Error(err))
	}
}
