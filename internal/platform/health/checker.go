// Package health 定期检查数据库与Redis，并在依赖不可用或Redis重启后暂停写请求。
package health

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/SlpAus/expert-rating-backend/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pingTimeout = 2 * time.Second

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// Checker 持有被检查的连接与当前状态
type Checker struct {
	db     *gorm.DB
	rdb    redis.UniversalClient
	log    *zap.Logger
	status *statusManager
	now    func() time.Time
	runID  func(ctx context.Context) (string, error)
}

// NewChecker 创建检查器。grace 是Redis重启后暂停写入的时长，通常取投票锁的持有时间。
func NewChecker(db *gorm.DB, rdb redis.UniversalClient, log *zap.Logger, grace time.Duration) *Checker {
	c := &Checker{
		db:     db,
		rdb:    rdb,
		log:    log,
		status: newStatusManager(grace, log),
		now:    func() time.Time { return time.Now().UTC() },
	}
	c.runID = c.redisRunID
	return c
}

// redisRunID 从Redis服务器信息中提取run_id
func (c *Checker) redisRunID(ctx context.Context) (string, error) {
	info, err := c.rdb.Info(ctx, "server").Result()
	if err != nil {
		return "", err
	}
	matches := runIDPattern.FindStringSubmatch(info)
	if len(matches) < 2 {
		return "", fmt.Errorf("无法在Redis INFO中找到run_id")
	}
	return matches[1], nil
}

// Initialize 在启动时获取初始的run_id，Redis不可用时返回错误
func (c *Checker) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	runID, err := c.runID(ctx)
	if err != nil {
		return fmt.Errorf("无法获取Redis run_id: %w", err)
	}
	c.status.SetInitialRunID(runID)
	c.log.Info("已获取初始Redis run_id", zap.String("run_id", runID))
	return nil
}

// State 返回当前状态
func (c *Checker) State() State {
	return c.status.State()
}

// PerformCheck 执行一次完整的健康检查并更新状态
func (c *Checker) PerformCheck(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var p Sample
	if err := c.pingDatabase(ctx); err != nil {
		c.log.Warn("数据库健康检查失败", zap.Error(err))
	} else {
		p.DatabaseOK = true
	}

	runID, err := c.runID(ctx)
	if err != nil {
		c.log.Warn("Redis健康检查失败", zap.Error(err))
	} else {
		p.RedisOK = true
		p.RunID = runID
	}

	return c.status.Assess(p, c.now())
}

func (c *Checker) pingDatabase(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run 在生命周期句柄下定期执行检查，直到停机信号到达
func (c *Checker) Run(handle *lifecycle.Handle, interval time.Duration) {
	defer handle.Close()
	c.log.Info("健康检查器已启动", zap.Duration("interval", interval))
	handle.Tick(interval, func(ctx context.Context) {
		c.PerformCheck(ctx)
	})
	c.log.Info("健康检查器已停止")
}
