package rating

import (
	"context"
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(testutil.NewDB(t, &Rating{}, &InteractionRecord{}))
}

func TestUpsertVoteSingleRowPerPair(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	prev, err := repo.UpsertVote(ctx, 10, 20, Trust)
	require.NoError(t, err)
	assert.Nil(t, prev)

	// 相同评价重复提交
	_, err = repo.UpsertVote(ctx, 10, 20, Trust)
	require.ErrorIs(t, err, ErrDuplicateVote)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// 相反评价覆盖
	prev, err = repo.UpsertVote(ctx, 10, 20, Distrust)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, Trust, *prev)

	var rows int64
	require.NoError(t, repo.db.Model(&Rating{}).Where("expert_id = ? AND voter_id = ?", 10, 20).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	current, err := repo.GetVote(ctx, 10, 20)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, Distrust, *current)
}

func TestUpsertVoteRejectsNeutral(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.UpsertVote(context.Background(), 1, 2, Neutral)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAggregateReflectsCurrentRowsOnly(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	// 投票 +1, +1, -1，随后第一位投票人改为 -1
	_, err := repo.UpsertVote(ctx, 1, 101, Trust)
	require.NoError(t, err)
	_, err = repo.UpsertVote(ctx, 1, 102, Trust)
	require.NoError(t, err)
	_, err = repo.UpsertVote(ctx, 1, 103, Distrust)
	require.NoError(t, err)
	_, err = repo.UpsertVote(ctx, 1, 101, Distrust)
	require.NoError(t, err)

	agg, err := repo.Aggregate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Aggregate{Trust: 1, Distrust: 2, Net: -1}, agg)

	removed, err := repo.WithdrawVote(ctx, 1, 103)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.WithdrawVote(ctx, 1, 103)
	require.NoError(t, err)
	assert.False(t, removed)

	agg, err = repo.Aggregate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Aggregate{Trust: 1, Distrust: 1, Net: 0}, agg)

	empty, err := repo.Aggregate(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, Aggregate{}, empty)
}

func TestTransactionRollsBackVoteWithInteraction(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	err := repo.Transaction(ctx, func(tx *Repository) error {
		if _, err := tx.UpsertVote(ctx, 5, 6, Trust); err != nil {
			return err
		}
		return ErrDuplicateVote
	})
	require.ErrorIs(t, err, ErrDuplicateVote)

	v, err := repo.GetVote(ctx, 5, 6)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestInteractionHistoryAndTallies(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	eventA, eventB := uint(1), uint(2)

	records := []InteractionRecord{
		{ExpertID: 1, VoterID: 100, EventID: &eventA, RatingSnapshot: Trust, CreatedAt: base},
		{ExpertID: 1, VoterID: 101, EventID: &eventA, RatingSnapshot: Distrust, CreatedAt: base.Add(time.Minute)},
		{ExpertID: 1, VoterID: 100, EventID: &eventA, RatingSnapshot: Neutral, CreatedAt: base.Add(2 * time.Minute)},
		{ExpertID: 1, VoterID: 102, EventID: &eventB, RatingSnapshot: Trust, CreatedAt: base.Add(3 * time.Minute)},
		{ExpertID: 2, VoterID: 100, RatingSnapshot: Trust, Comment: "хороший эксперт", CreatedAt: base.Add(4 * time.Minute)},
	}
	for i := range records {
		require.NoError(t, repo.AppendInteraction(ctx, &records[i]))
	}

	tallies, err := repo.EventTallies(ctx, []uint{eventA, eventB, 3})
	require.NoError(t, err)
	assert.Equal(t, Tally{Trust: 0, Distrust: 1}, tallies[eventA])
	assert.Equal(t, Tally{Trust: 1}, tallies[eventB])
	assert.Equal(t, int64(0), tallies[3].Votes())

	voted, err := repo.HasActiveEventVote(ctx, eventA, 100)
	require.NoError(t, err)
	assert.False(t, voted, "撤回之后不再算作已投票")
	voted, err = repo.HasActiveEventVote(ctx, eventA, 101)
	require.NoError(t, err)
	assert.True(t, voted)

	mine, total, err := repo.ListByVoter(ctx, 100, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, mine, 2)
	assert.Equal(t, int64(2), mine[0].ExpertID, "最新的记录排在最前")
	assert.Equal(t, Neutral, mine[1].RatingSnapshot)

	received, total, err := repo.ListByExpert(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, received, 4)
}

func TestWithdrawWithoutEventCancelsEventVote(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	eventA := uint(1)

	records := []InteractionRecord{
		{ExpertID: 1, VoterID: 100, EventID: &eventA, RatingSnapshot: Trust, CreatedAt: base},
		{ExpertID: 1, VoterID: 101, EventID: &eventA, RatingSnapshot: Trust, CreatedAt: base.Add(time.Minute)},
		// 从专家页面撤回，不带活动ID
		{ExpertID: 1, VoterID: 100, RatingSnapshot: Neutral, CreatedAt: base.Add(2 * time.Minute)},
		// 对其他专家的撤回不影响本活动
		{ExpertID: 2, VoterID: 101, RatingSnapshot: Neutral, CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range records {
		require.NoError(t, repo.AppendInteraction(ctx, &records[i]))
	}

	tallies, err := repo.EventTallies(ctx, []uint{eventA})
	require.NoError(t, err)
	assert.Equal(t, Tally{Trust: 1}, tallies[eventA])

	voted, err := repo.HasActiveEventVote(ctx, eventA, 100)
	require.NoError(t, err)
	assert.False(t, voted)
	voted, err = repo.HasActiveEventVote(ctx, eventA, 101)
	require.NoError(t, err)
	assert.True(t, voted)

	// 撤回后再次在活动中投票，重新计入
	require.NoError(t, repo.AppendInteraction(ctx, &InteractionRecord{
		ExpertID: 1, VoterID: 100, EventID: &eventA, RatingSnapshot: Distrust, CreatedAt: base.Add(4 * time.Minute),
	}))
	tallies, err = repo.EventTallies(ctx, []uint{eventA})
	require.NoError(t, err)
	assert.Equal(t, Tally{Trust: 1, Distrust: 1}, tallies[eventA])
	voted, err = repo.HasActiveEventVote(ctx, eventA, 100)
	require.NoError(t, err)
	assert.True(t, voted)
}

func TestDeleteByUser(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertVote(ctx, 1, 2, Trust)
	require.NoError(t, err)
	_, err = repo.UpsertVote(ctx, 3, 1, Distrust)
	require.NoError(t, err)
	_, err = repo.UpsertVote(ctx, 3, 4, Trust)
	require.NoError(t, err)
	require.NoError(t, repo.AppendInteraction(ctx, &InteractionRecord{ExpertID: 1, VoterID: 2, RatingSnapshot: Trust}))

	require.NoError(t, repo.DeleteByUser(ctx, 1))

	var left int64
	require.NoError(t, repo.db.Model(&Rating{}).Count(&left).Error)
	assert.Equal(t, int64(1), left)
	require.NoError(t, repo.db.Model(&InteractionRecord{}).Count(&left).Error)
	assert.Equal(t, int64(0), left)
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(" Trust ")
	require.NoError(t, err)
	assert.Equal(t, Trust, v)

	v, err = ParseValue("distrust")
	require.NoError(t, err)
	assert.Equal(t, Distrust, v)

	_, err = ParseValue("neutral")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
