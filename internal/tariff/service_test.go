package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounter 按创建时间过滤，模拟活动表中计入额度的行
type fakeCounter struct {
	created map[int64][]time.Time
}

func (f *fakeCounter) CountTowardsLimit(_ context.Context, expertID int64, since time.Time) (int64, error) {
	var n int64
	for _, at := range f.created[expertID] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func newService(t *testing.T, counter MonthlyEventCounter) (*Service, *Repository) {
	t.Helper()
	db := testutil.NewDB(t)
	require.NoError(t, Migrate(db))
	repo := NewRepository(db)
	return NewService(repo, counter), repo
}

func TestMigrateSeedsCatalogueOnce(t *testing.T) {
	db := testutil.NewDB(t)
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	svc := NewService(NewRepository(db), &fakeCounter{})
	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "start", list[0].Code)
	assert.True(t, list[2].Price.Equal(decimal.NewFromInt(729)))
}

func TestEffectiveTariffFollowsSubscription(t *testing.T) {
	svc, _ := newService(t, &fakeCounter{})
	ctx := context.Background()

	got, err := svc.EffectiveTariff(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "start", got.Code)

	next := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.ActivateSubscription(ctx, 1, decimal.NewFromInt(300), &next))
	got, err = svc.EffectiveTariff(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "standard", got.Code)

	// 续费金额提升后升级到高档位
	require.NoError(t, svc.ActivateSubscription(ctx, 1, decimal.NewFromInt(729), &next))
	got, err = svc.EffectiveTariff(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Code)

	require.NoError(t, svc.DeactivateSubscription(ctx, 1, StatusExpired))
	got, err = svc.EffectiveTariff(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "start", got.Code)
}

func TestMonthlyLimitRollsOverWithCalendarMonth(t *testing.T) {
	counter := &fakeCounter{created: map[int64][]time.Time{
		7: {
			time.Date(2025, 1, 30, 10, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC),
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC),
		},
	}}
	svc, _ := newService(t, counter)
	ctx := context.Background()

	// 1月底：1月的两个活动都计入，免费档上限为3
	jan := time.Date(2025, 1, 31, 23, 59, 30, 0, time.UTC)
	count, err := svc.CurrentMonthEventCount(ctx, 7, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 2月：上个月创建的活动不再计入
	feb := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	count, err = svc.CurrentMonthEventCount(ctx, 7, feb)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	allowed, err := svc.CheckEventCreationAllowed(ctx, 7, feb)
	require.NoError(t, err)
	assert.True(t, allowed)

	counter.created[7] = append(counter.created[7], time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC))
	allowed, err = svc.CheckEventCreationAllowed(ctx, 7, feb)
	require.NoError(t, err)
	assert.False(t, allowed)

	usage, err := svc.Usage(ctx, 7, feb)
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage.EventsUsed)
	assert.Equal(t, int64(0), usage.EventsRemaining)
	assert.Equal(t, 60, usage.MaxDurationMinutes)
	assert.Equal(t, 100, usage.MaxVotesPerEvent)
	assert.False(t, usage.SubscriptionActive)
}
