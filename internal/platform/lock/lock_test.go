package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcquireIsExclusive(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()

	guard, err := locker.Acquire(ctx, "vote:1:expert:2", time.Second*10, 0)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "vote:1:expert:2", time.Second*10, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrNotAcquired)
	assert.Equal(t, apperr.KindContention, apperr.KindOf(err))

	// 不同的键互不影响
	other, err := locker.Acquire(ctx, "vote:1:expert:3", time.Second*10, 0)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, guard.Release(ctx))
	require.NoError(t, guard.Release(ctx))

	again, err := locker.Acquire(ctx, "vote:1:expert:2", time.Second*10, 0)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestReleaseDoesNotDeleteForeignLock(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "event:promo:SPRING", time.Second, 0)
	require.NoError(t, err)

	// 第一把锁过期后被第二个持有者取得
	mr.FastForward(2 * time.Second)
	second, err := locker.Acquire(ctx, "event:promo:SPRING", 10*time.Second, 0)
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))
	assert.True(t, mr.Exists(keyPrefix+"event:promo:SPRING"), "过期的持有者不应删除新持有者的锁")

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"event:promo:SPRING"))
}

func TestAcquireWaitsForRelease(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()

	guard, err := locker.Acquire(ctx, "k", 10*time.Second, 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = guard.Release(ctx)
	}()

	next, err := locker.Acquire(ctx, "k", 10*time.Second, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, next.Release(ctx))
}

func TestAcquireHonoursContextCancel(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	locker := NewRedisLocker(rdb)

	guard, err := locker.Acquire(context.Background(), "k", 10*time.Second, 0)
	require.NoError(t, err)
	defer guard.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", 10*time.Second, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockReleasesOnError(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithLock(ctx, locker, "k", 10*time.Second, 0, zap.NewNop(), func() error {
		assert.True(t, mr.Exists(keyPrefix+"k"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(keyPrefix+"k"))
}

func TestWithLockSerializesCriticalSection(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	locker := NewRedisLocker(rdb)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, locker, "shared", 10*time.Second, 5*time.Second, zap.NewNop(), func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
