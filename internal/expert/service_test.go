package expert

import (
	"context"
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/event"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/platform/cache"
	"github.com/SlpAus/expert-rating-backend/internal/rating"
	"github.com/SlpAus/expert-rating-backend/internal/tariff"
	"github.com/SlpAus/expert-rating-backend/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingNotifier struct {
	direct map[notify.Kind]int
	admins map[notify.Kind]int
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{direct: map[notify.Kind]int{}, admins: map[notify.Kind]int{}}
}

func (n *countingNotifier) Notify(_ int64, kind notify.Kind, _ notify.Params) { n.direct[kind]++ }
func (n *countingNotifier) NotifyAdmins(kind notify.Kind, _ notify.Params)    { n.admins[kind]++ }

type testEnv struct {
	svc      *Service
	ratings  *rating.Repository
	events   *event.Repository
	tariffs  *tariff.Service
	notifier *countingNotifier
	mr       *miniredis.Miniredis
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	require.NoError(t, Migrate(db))
	require.NoError(t, rating.Migrate(db))
	require.NoError(t, event.Migrate(db))
	require.NoError(t, tariff.Migrate(db))
	rdb, mr := testutil.NewRedis(t)

	events := event.NewRepository(db)
	tariffRepo := tariff.NewRepository(db)
	env := &testEnv{
		ratings:  rating.NewRepository(db),
		events:   events,
		tariffs:  tariff.NewService(tariffRepo, events),
		notifier: newCountingNotifier(),
		mr:       mr,
	}
	env.svc = NewService(Deps{
		Repo:     NewRepository(db),
		Ratings:  env.ratings,
		Events:   events,
		Tariffs:  env.tariffs,
		TariffDB: tariffRepo,
		Cache:    cache.NewProfileCache(rdb, time.Hour, zap.NewNop()),
		Notifier: env.notifier,
		IsAdmin:  func(id int64) bool { return id == 1 },
		Log:      zap.NewNop(),
	})
	env.svc.SetClock(func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) })
	return env
}

func registerInput(first, last, region string) RegisterInput {
	return RegisterInput{
		FirstName:  first,
		LastName:   last,
		Region:     region,
		SocialLink: "https://vk.com/id1",
	}
}

func (e *testEnv) approvedExpert(t *testing.T, id int64, first, last, region string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Register(ctx, id, registerInput(first, last, region))
	require.NoError(t, err)
	require.NoError(t, e.svc.Approve(ctx, id))
}

func TestRegisterCreatesPendingProfile(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	profile, err := env.svc.Register(ctx, 42, registerInput(" Анна ", "Петрова", "Москва"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, profile.Status)
	assert.Equal(t, 1, env.notifier.admins[notify.KindExpertRequest])

	u, err := env.svc.GetUser(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Анна", u.FirstName)
	assert.True(t, u.AllowNotifications)

	approved, err := env.svc.IsApproved(ctx, 42)
	require.NoError(t, err)
	assert.False(t, approved)

	pending, err := env.svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Петрова", pending[0].LastName)
}

func TestRegisterTwiceConflictsUnlessRejected(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, 42, registerInput("Анна", "Петрова", "Москва"))
	require.NoError(t, err)
	_, err = env.svc.Register(ctx, 42, registerInput("Анна", "Петрова", "Москва"))
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, env.svc.Reject(ctx, 42, ""))
	assert.Equal(t, 1, env.notifier.direct[notify.KindExpertRejected])

	profile, err := env.svc.Repo.GetProfile(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, profile.Status)
	assert.Equal(t, defaultRejectionReason, profile.RejectionReason)

	// 被拒绝后可以重新提交
	resubmitted, err := env.svc.Register(ctx, 42, registerInput("Анна", "Петрова", "Казань"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resubmitted.Status)
	assert.Equal(t, "Казань", resubmitted.Region)
}

func TestApproveUnknownExpert(t *testing.T) {
	env := newEnv(t)
	err := env.svc.Approve(context.Background(), 404)
	assert.ErrorIs(t, err, ErrExpertNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestProfileIsCachedAndInvalidated(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.approvedExpert(t, 42, "Анна", "Петрова", "Москва")

	view, err := env.svc.Profile(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, view.Expert)
	assert.Equal(t, StatusApproved, view.Expert.Status)
	assert.False(t, view.IsAdmin)
	require.NotNil(t, view.Usage)
	assert.Equal(t, "start", view.Usage.Tariff.Code)
	assert.True(t, env.mr.Exists(cache.ProfileKey(42)))

	// 缓存命中时直接返回缓存内容
	_, err = env.ratings.UpsertVote(ctx, 42, 7, rating.Trust)
	require.NoError(t, err)
	stale, err := env.svc.Profile(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stale.Rating.Net)

	// 状态变化后缓存被清除
	require.NoError(t, env.svc.SetNotifications(ctx, 42, false))
	assert.False(t, env.mr.Exists(cache.ProfileKey(42)))

	fresh, err := env.svc.Profile(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Rating.Net)
	assert.False(t, fresh.User.AllowNotifications)
}

func TestProfileForPlainUserAndAdmin(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.Repo.EnsureUser(ctx, &User{VKID: 1, FirstName: "Админ"}))

	view, err := env.svc.Profile(ctx, 1)
	require.NoError(t, err)
	assert.True(t, view.IsAdmin)
	assert.Nil(t, view.Expert)
	assert.Nil(t, view.Usage)

	_, err = env.svc.Profile(ctx, 2)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteCascades(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.approvedExpert(t, 42, "Анна", "Петрова", "Москва")
	env.approvedExpert(t, 43, "Борис", "Иванов", "Москва")

	// 42 投票给 43，7 投票给 42
	_, err := env.ratings.UpsertVote(ctx, 43, 42, rating.Trust)
	require.NoError(t, err)
	require.NoError(t, env.ratings.AppendInteraction(ctx, &rating.InteractionRecord{ExpertID: 43, VoterID: 42, RatingSnapshot: rating.Trust}))
	_, err = env.ratings.UpsertVote(ctx, 42, 7, rating.Distrust)
	require.NoError(t, err)

	require.NoError(t, env.events.Create(ctx, &event.Event{
		ExpertID: 42, Name: "Лекция", PromoWord: "LECTURE",
		StartsAt: time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), DurationMinutes: 60, Status: event.StatusApproved,
	}))
	require.NoError(t, env.tariffs.ActivateSubscription(ctx, 42, decimal.NewFromInt(299), nil))

	// 预先写入43的缓存，删除42后应被清除
	_, err = env.svc.Profile(ctx, 43)
	require.NoError(t, err)
	require.True(t, env.mr.Exists(cache.ProfileKey(43)))

	require.NoError(t, env.svc.Delete(ctx, 42))

	u, err := env.svc.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, u)

	agg, err := env.ratings.Aggregate(ctx, 43)
	require.NoError(t, err)
	assert.Equal(t, rating.Aggregate{}, agg)

	count, err := env.events.CountApproved(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, count)

	effective, err := env.tariffs.EffectiveTariff(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "start", effective.Code)

	assert.False(t, env.mr.Exists(cache.ProfileKey(43)))
	assert.ErrorIs(t, env.svc.Delete(ctx, 42), ErrUserNotFound)
}

func TestUsersListsEveryoneWithExpertStatus(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.Repo.EnsureUser(ctx, &User{VKID: 5, FirstName: "Олег"}))
	_, err := env.svc.Register(ctx, 42, registerInput("Анна", "Петрова", "Москва"))
	require.NoError(t, err)
	env.approvedExpert(t, 43, "Борис", "Алексеев", "Казань")

	items, total, err := env.svc.Users(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 3)
	byID := make(map[int64]UserListing)
	for _, it := range items {
		byID[it.VKID] = it
	}
	assert.Equal(t, Status(""), byID[5].ExpertStatus)
	assert.Equal(t, StatusPending, byID[42].ExpertStatus)
	assert.Equal(t, StatusApproved, byID[43].ExpertStatus)
	assert.Equal(t, "Казань", byID[43].Region)

	items, total, err = env.svc.Users(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 1)
}

func TestTopOrdersByNetThenName(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.approvedExpert(t, 10, "Анна", "Белова", "Москва")
	env.approvedExpert(t, 11, "Вера", "Алексеева", "Москва")
	env.approvedExpert(t, 12, "Борис", "Алексеев", "Казань")
	env.approvedExpert(t, 13, "Глеб", "Алексеев", "Казань")
	_, err := env.svc.Register(ctx, 14, registerInput("Дмитрий", "Абрамов", "Москва"))
	require.NoError(t, err)

	// 10: +2；11、12、13 均为0；14 未通过审核
	for _, voter := range []int64{100, 101} {
		_, err := env.ratings.UpsertVote(ctx, 10, voter, rating.Trust)
		require.NoError(t, err)
	}
	_, err = env.ratings.UpsertVote(ctx, 11, 100, rating.Trust)
	require.NoError(t, err)
	_, err = env.ratings.UpsertVote(ctx, 11, 101, rating.Distrust)
	require.NoError(t, err)

	items, total, err := env.svc.Top(ctx, rating.RankFilter{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ExpertID)
	}
	assert.Equal(t, []int64{10, 12, 13, 11}, ids)
	assert.Equal(t, int64(2), items[0].Trust)
	assert.Equal(t, int64(1), items[3].Distrust)

	items, total, err = env.svc.Top(ctx, rating.RankFilter{Page: 1, Size: 10, Region: "Казань"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)

	items, _, err = env.svc.Top(ctx, rating.RankFilter{Page: 1, Size: 10, Search: "ел"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].ExpertID)

	items, total, err = env.svc.Top(ctx, rating.RankFilter{Page: 2, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, items, 1)
	assert.Equal(t, int64(11), items[0].ExpertID)
}

func TestTopPagesCoverEveryExpertOnce(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	// 同名同分的专家只能靠ID区分先后
	for id := int64(20); id < 27; id++ {
		env.approvedExpert(t, id, "Иван", "Иванов", "Москва")
	}
	env.approvedExpert(t, 30, "Анна", "Иванова", "Москва")
	for _, voter := range []int64{100, 101} {
		_, err := env.ratings.UpsertVote(ctx, 23, voter, rating.Trust)
		require.NoError(t, err)
		_, err = env.ratings.UpsertVote(ctx, 30, voter, rating.Trust)
		require.NoError(t, err)
	}

	want := []int64{23, 30, 20, 21, 22, 24, 25, 26}
	for size := 1; size <= len(want)+1; size++ {
		seen := make(map[int64]int)
		var order []int64
		for page := 1; ; page++ {
			items, total, err := env.svc.Top(ctx, rating.RankFilter{Page: page, Size: size})
			require.NoError(t, err)
			assert.Equal(t, int64(len(want)), total)
			if len(items) == 0 {
				break
			}
			for _, it := range items {
				seen[it.ExpertID]++
				order = append(order, it.ExpertID)
			}
		}
		for _, id := range want {
			assert.Equal(t, 1, seen[id], "每页 %d 条时专家 %d 出现的次数", size, id)
		}
		assert.Equal(t, want, order, "每页 %d 条", size)
	}
}
