// Package idempotency 记录已完成请求的结果与已处理的外部事件，防止重复执行。
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idem:"

// Store 将首次成功执行的结果序列化后保存在Redis中
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func redisKey(scope, key string) string {
	return keyPrefix + scope + ":" + key
}

// Lookup 查询 (scope, key) 是否已有结果，命中时反序列化到 out
func (s *Store) Lookup(ctx context.Context, scope, key string, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, redisKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询幂等键 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("解析幂等键 %s 的缓存结果失败: %w", key, err)
	}
	return true, nil
}

// Save 保存首次执行的结果；已存在的结果不会被覆盖
func (s *Store) Save(ctx context.Context, scope, key string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化幂等结果失败: %w", err)
	}
	if err := s.rdb.SetNX(ctx, redisKey(scope, key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("写入幂等键 %s 失败: %w", key, err)
	}
	return nil
}

// Claim 封装了一次“处理标记”的回滚逻辑。
// 业务流程失败时通过 defer RollbackUnlessCommitted 删除标记，使外部重试能够再次处理。
type Claim struct {
	rdb       redis.UniversalClient
	key       string
	committed bool
}

// TryClaim 原子地占用 (scope, key)。返回 nil Claim 表示该事件已被处理或正在处理。
func (s *Store) TryClaim(ctx context.Context, scope, key string, ttl time.Duration) (*Claim, error) {
	k := redisKey(scope, key)
	ok, err := s.rdb.SetNX(ctx, k, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("占用处理标记 %s 失败: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Claim{rdb: s.rdb, key: k}, nil
}

// Commit 标记上层业务已成功，阻止后续的回滚操作。
func (c *Claim) Commit() {
	c.committed = true
}

// RollbackUnlessCommitted 在未提交时删除处理标记
func (c *Claim) RollbackUnlessCommitted(ctx context.Context) error {
	if c == nil || c.committed {
		return nil
	}
	if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("回滚处理标记 %s 失败: %w", c.key, err)
	}
	return nil
}
