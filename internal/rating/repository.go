package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/platform/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicateVote 表示投票人对同一专家重复提交了相同的评价
	ErrDuplicateVote = apperr.New(apperr.KindConflict, "already_voted", "您已经给出过相同的评价")
	// ErrConcurrentWrite 表示同一对 (专家, 投票人) 的评分被并发写入
	ErrConcurrentWrite = apperr.New(apperr.KindContention, "concurrent_vote", "评价正在被处理，请稍后重试")
)

// Repository 负责评分与互动历史的持久化
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

const (
	maxTxRetry   = 3
	txRetryDelay = 50 * time.Millisecond
)

// Transaction 在一个数据库事务中执行 fn，遇到短暂的锁冲突时整体重试
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	var err error
	for i := 0; i < maxTxRetry; i++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(r.WithTx(tx))
		})
		if err == nil || !database.IsRetryableError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryDelay):
		}
	}
	return err
}

// UpsertVote 写入投票人对专家的评价，返回之前的评价（首次评价时为nil）。
// 重复提交相同的评价返回 ErrDuplicateVote。
func (r *Repository) UpsertVote(ctx context.Context, expertID, voterID int64, value Value) (*Value, error) {
	if value != Trust && value != Distrust {
		return nil, apperr.Validation("invalid_vote_type", "无效的投票值: %d", value)
	}

	// 1. 锁定已有的评分行（SQLite 会忽略行锁，由外层的分布式锁保证互斥）
	var existing Rating
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("expert_id = ? AND voter_id = ?", expertID, voterID).
		Take(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 2a. 首次评价
		row := Rating{ExpertID: expertID, VoterID: voterID, VoteValue: value}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			if database.IsDuplicateKeyError(err) {
				return nil, ErrConcurrentWrite
			}
			return nil, fmt.Errorf("无法写入专家 %d 投票人 %d 的评分: %w", expertID, voterID, err)
		}
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("无法读取专家 %d 投票人 %d 的评分: %w", expertID, voterID, err)
	}

	// 2b. 相同的评价视为重复
	if existing.VoteValue == value {
		return nil, ErrDuplicateVote
	}

	// 2c. 相反的评价覆盖原值
	previous := existing.VoteValue
	if err := r.db.WithContext(ctx).Model(&existing).Update("vote_value", value).Error; err != nil {
		return nil, fmt.Errorf("无法更新专家 %d 投票人 %d 的评分: %w", expertID, voterID, err)
	}
	return &previous, nil
}

// WithdrawVote 删除评分行，返回删除前是否存在
func (r *Repository) WithdrawVote(ctx context.Context, expertID, voterID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("expert_id = ? AND voter_id = ?", expertID, voterID).
		Delete(&Rating{})
	if res.Error != nil {
		return false, fmt.Errorf("无法撤回专家 %d 投票人 %d 的评分: %w", expertID, voterID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetVote 返回当前评价，没有评价时返回nil
func (r *Repository) GetVote(ctx context.Context, expertID, voterID int64) (*Value, error) {
	var row Rating
	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND voter_id = ?", expertID, voterID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取专家 %d 投票人 %d 的评分: %w", expertID, voterID, err)
	}
	v := row.VoteValue
	return &v, nil
}

// Aggregate 根据现存评分行统计专家的信任度
func (r *Repository) Aggregate(ctx context.Context, expertID int64) (Aggregate, error) {
	var agg Aggregate
	err := r.db.WithContext(ctx).Model(&Rating{}).
		Select(`COALESCE(SUM(CASE WHEN vote_value > 0 THEN 1 ELSE 0 END), 0) AS trust,
			COALESCE(SUM(CASE WHEN vote_value < 0 THEN 1 ELSE 0 END), 0) AS distrust`).
		Where("expert_id = ?", expertID).
		Scan(&agg).Error
	if err != nil {
		return Aggregate{}, fmt.Errorf("无法统计专家 %d 的评分: %w", expertID, err)
	}
	agg.Net = agg.Trust - agg.Distrust
	return agg, nil
}

// AppendInteraction 追加一条互动记录
func (r *Repository) AppendInteraction(ctx context.Context, rec *InteractionRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("无法写入专家 %d 投票人 %d 的互动记录: %w", rec.ExpertID, rec.VoterID, err)
	}
	return nil
}

// ListByVoter 按时间倒序返回投票人的互动历史
func (r *Repository) ListByVoter(ctx context.Context, voterID int64, page, size int) ([]InteractionRecord, int64, error) {
	return r.listInteractions(ctx, "voter_id = ?", voterID, page, size)
}

// ListByExpert 按时间倒序返回专家收到的互动历史
func (r *Repository) ListByExpert(ctx context.Context, expertID int64, page, size int) ([]InteractionRecord, int64, error) {
	return r.listInteractions(ctx, "expert_id = ?", expertID, page, size)
}

func (r *Repository) listInteractions(ctx context.Context, cond string, id int64, page, size int) ([]InteractionRecord, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&InteractionRecord{}).Where(cond, id)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("无法统计互动记录: %w", err)
	}

	var records []InteractionRecord
	err := r.db.WithContext(ctx).Where(cond, id).
		Order("created_at DESC, id DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("无法读取互动记录: %w", err)
	}
	return records, total, nil
}

// EventTallies 统计每个活动中各投票人最新一次互动的评价。
// 之后对同一专家的撤回（无论是否带活动ID）会使该评价失效。
func (r *Repository) EventTallies(ctx context.Context, eventIDs []uint) (map[uint]Tally, error) {
	tallies := make(map[uint]Tally, len(eventIDs))
	if len(eventIDs) == 0 {
		return tallies, nil
	}

	var records []InteractionRecord
	err := r.db.WithContext(ctx).
		Select("id", "expert_id", "event_id", "voter_id", "rating_snapshot").
		Where("event_id IN ?", eventIDs).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取活动的互动记录: %w", err)
	}

	type key struct {
		event uint
		voter int64
	}
	latest := make(map[key]InteractionRecord, len(records))
	voters := make([]int64, 0, len(records))
	for _, rec := range records {
		k := key{*rec.EventID, rec.VoterID}
		if _, seen := latest[k]; !seen {
			voters = append(voters, rec.VoterID)
		}
		latest[k] = rec
	}

	withdrawn, err := r.lastWithdrawals(ctx, voters)
	if err != nil {
		return nil, err
	}
	for k, rec := range latest {
		if rec.ID < withdrawn[pair{rec.ExpertID, rec.VoterID}] {
			continue
		}
		t := tallies[k.event]
		switch rec.RatingSnapshot {
		case Trust:
			t.Trust++
		case Distrust:
			t.Distrust++
		}
		tallies[k.event] = t
	}
	return tallies, nil
}

type pair struct {
	expert int64
	voter  int64
}

// lastWithdrawals 返回给定投票人每个 (专家, 投票人) 最近一次撤回记录的ID
func (r *Repository) lastWithdrawals(ctx context.Context, voters []int64) (map[pair]uint, error) {
	out := make(map[pair]uint)
	if len(voters) == 0 {
		return out, nil
	}
	var rows []struct {
		ExpertID int64
		VoterID  int64
		LastID   uint
	}
	err := r.db.WithContext(ctx).Model(&InteractionRecord{}).
		Select("expert_id, voter_id, MAX(id) AS last_id").
		Where("rating_snapshot = ? AND voter_id IN ?", Neutral, voters).
		Group("expert_id, voter_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取撤回记录: %w", err)
	}
	for _, row := range rows {
		out[pair{row.ExpertID, row.VoterID}] = row.LastID
	}
	return out, nil
}

// HasActiveEventVote 判断投票人在活动中最新一次互动是否仍为有效评价，且之后没有撤回
func (r *Repository) HasActiveEventVote(ctx context.Context, eventID uint, voterID int64) (bool, error) {
	var rec InteractionRecord
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND voter_id = ?", eventID, voterID).
		Order("id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("无法读取活动 %d 投票人 %d 的互动记录: %w", eventID, voterID, err)
	}
	if rec.RatingSnapshot == Neutral {
		return false, nil
	}

	var later int64
	err = r.db.WithContext(ctx).Model(&InteractionRecord{}).
		Where("expert_id = ? AND voter_id = ? AND rating_snapshot = ? AND id > ?", rec.ExpertID, voterID, Neutral, rec.ID).
		Count(&later).Error
	if err != nil {
		return false, fmt.Errorf("无法读取投票人 %d 的撤回记录: %w", voterID, err)
	}
	return later == 0, nil
}

// DeleteByUser 删除与用户相关的全部评分与互动记录，用于注销专家
func (r *Repository) DeleteByUser(ctx context.Context, userID int64) error {
	if err := r.db.WithContext(ctx).Where("expert_id = ? OR voter_id = ?", userID, userID).Delete(&Rating{}).Error; err != nil {
		return fmt.Errorf("无法删除用户 %d 的评分: %w", userID, err)
	}
	if err := r.db.WithContext(ctx).Where("expert_id = ? OR voter_id = ?", userID, userID).Delete(&InteractionRecord{}).Error; err != nil {
		return fmt.Errorf("无法删除用户 %d 的互动记录: %w", userID, err)
	}
	return nil
}
