// Package testutil 为各个包的测试提供内存数据库与内存Redis。
package testutil

import (
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/platform/database"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB 创建一个独立的SQLite内存数据库并迁移给定模型。
// 连接池限制为1，使并发测试中的写入串行化而不会触发 database is locked。
func NewDB(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), database.NewGormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}
	return db
}

// NewRedis 启动一个miniredis实例并返回连接到它的客户端
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

// Clock 是一个可手动推进的时钟
type Clock struct {
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Set(now time.Time) { c.now = now.UTC() }

func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }
