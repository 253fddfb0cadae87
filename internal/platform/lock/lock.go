// Package lock 提供基于Redis的分布式互斥锁。
// 加锁使用 SET NX PX 与随机持有者令牌，释放时通过Lua脚本比较令牌后删除，
// 因此过期后被他人取得的锁不会被误删。
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "lock:"

// ErrNotAcquired 在等待时限内未能取得锁时返回
var ErrNotAcquired = apperr.New(apperr.KindContention, "too_many_requests", "操作过于频繁，请稍后重试")

// Locker 是命名互斥锁的获取者
type Locker interface {
	Acquire(ctx context.Context, key string, hold, wait time.Duration) (*Guard, error)
}

// Guard 代表一次成功的加锁，Release 可以安全地多次调用
type Guard struct {
	key     string
	release func(context.Context) error
	once    sync.Once
	err     error
}

// Key 返回被锁定的名称
func (g *Guard) Key() string {
	return g.key
}

// Release 释放锁。只有第一次调用会真正访问Redis。
func (g *Guard) Release(ctx context.Context) error {
	g.once.Do(func() {
		g.err = g.release(ctx)
	})
	return g.err
}

// releaseScript 仅当锁仍由本令牌持有时才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 使用单个Redis实例实现 Locker
type RedisLocker struct {
	rdb        redis.UniversalClient
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		rdb:        rdb,
		minBackoff: 20 * time.Millisecond,
		maxBackoff: 200 * time.Millisecond,
	}
}

// Acquire 尝试在 wait 时限内取得名为 key 的锁，锁在 hold 之后自动过期。
// 超过等待时限返回 ErrNotAcquired；ctx 被取消时返回 ctx.Err()。
func (l *RedisLocker) Acquire(ctx context.Context, key string, hold, wait time.Duration) (*Guard, error) {
	fullKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	backoff := l.minBackoff

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, hold).Result()
		if err != nil {
			return nil, fmt.Errorf("获取锁 %s 失败: %w", key, err)
		}
		if ok {
			return &Guard{
				key: key,
				release: func(ctx context.Context) error {
					if err := releaseScript.Run(ctx, l.rdb, []string{fullKey}, token).Err(); err != nil {
						return fmt.Errorf("释放锁 %s 失败: %w", key, err)
					}
					return nil
				},
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}
		sleep := min(backoff, remaining)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// WithLock 在持有锁期间执行 fn，无论 fn 如何退出都会释放锁。
// 释放失败只记录日志，锁最终会因过期而自动失效。
func WithLock(ctx context.Context, locker Locker, key string, hold, wait time.Duration, log *zap.Logger, fn func() error) error {
	guard, err := locker.Acquire(ctx, key, hold, wait)
	if err != nil {
		return err
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("释放分布式锁失败", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}
