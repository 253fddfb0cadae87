package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create 插入新活动
func (r *Repository) Create(ctx context.Context, e *Event) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("无法创建专家 %d 的活动: %w", e.ExpertID, err)
	}
	return nil
}

// FindByID 按ID查找活动，不存在时返回nil
func (r *Repository) FindByID(ctx context.Context, id uint) (*Event, error) {
	var e Event
	err := r.db.WithContext(ctx).Take(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取活动 %d: %w", id, err)
	}
	return &e, nil
}

// FindByPromo 返回使用同一促销词、处于给定状态的活动，按开始时间升序
func (r *Repository) FindByPromo(ctx context.Context, promo string, statuses ...Status) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("promo_word = ? AND status IN ?", promo, statuses).
		Order("starts_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取促销词 %s 的活动: %w", promo, err)
	}
	return events, nil
}

// UpdateFields 更新活动的部分字段
func (r *Repository) UpdateFields(ctx context.Context, id uint, fields map[string]any) error {
	if err := r.db.WithContext(ctx).Model(&Event{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("无法更新活动 %d: %w", id, err)
	}
	return nil
}

// TransitionStatus 仅当活动仍处于 from 状态时更新字段，返回是否更新成功
func (r *Repository) TransitionStatus(ctx context.Context, id uint, from Status, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Event{}).Where("id = ? AND status = ?", id, from).Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("无法更新活动 %d 的状态: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete 删除活动
func (r *Repository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&Event{}, id).Error; err != nil {
		return fmt.Errorf("无法删除活动 %d: %w", id, err)
	}
	return nil
}

// CountTowardsLimit 统计专家自 since 以来创建的、计入额度的活动（待审核与已通过）
func (r *Repository) CountTowardsLimit(ctx context.Context, expertID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Event{}).
		Where("expert_id = ? AND status IN ? AND created_at >= ?", expertID, []Status{StatusPending, StatusApproved}, since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("无法统计专家 %d 的活动: %w", expertID, err)
	}
	return count, nil
}

// CountApproved 统计专家已通过审核的活动总数
func (r *Repository) CountApproved(ctx context.Context, expertID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Event{}).
		Where("expert_id = ? AND status = ?", expertID, StatusApproved).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("无法统计专家 %d 的已通过活动: %w", expertID, err)
	}
	return count, nil
}

// ListByExpert 按开始时间倒序返回专家的全部活动
func (r *Repository) ListByExpert(ctx context.Context, expertID int64) ([]Event, error) {
	var events []Event
	if err := r.db.WithContext(ctx).Where("expert_id = ?", expertID).Order("starts_at DESC, id DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("无法读取专家 %d 的活动: %w", expertID, err)
	}
	return events, nil
}

// ListPublicByExpert 按开始时间倒序返回专家已通过且公开的活动
func (r *Repository) ListPublicByExpert(ctx context.Context, expertID int64) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("expert_id = ? AND status = ? AND is_private = ?", expertID, StatusApproved, false).
		Order("starts_at DESC, id DESC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取专家 %d 的公开活动: %w", expertID, err)
	}
	return events, nil
}

// ListPending 按创建时间返回待审核的活动
func (r *Repository) ListPending(ctx context.Context) ([]Event, error) {
	var events []Event
	if err := r.db.WithContext(ctx).Where("status = ?", StatusPending).Order("created_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("无法读取待审核活动: %w", err)
	}
	return events, nil
}

// ListPublicUpcoming 返回已通过、公开且尚未开始的活动
func (r *Repository) ListPublicUpcoming(ctx context.Context, now time.Time, page, size int) ([]Event, int64, error) {
	q := r.db.WithContext(ctx).Model(&Event{}).
		Where("status = ? AND is_private = ? AND starts_at > ?", StatusApproved, false, now.UTC())

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("无法统计公开活动: %w", err)
	}
	var events []Event
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_private = ? AND starts_at > ?", StatusApproved, false, now.UTC()).
		Order("starts_at ASC, id ASC").
		Limit(size).Offset((page - 1) * size).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("无法读取公开活动: %w", err)
	}
	return events, total, nil
}

// DueReminders 返回将在 (now, now+lead] 内开始、需要提醒且尚未提醒的已通过活动
func (r *Repository) DueReminders(ctx context.Context, now time.Time, lead time.Duration) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("status = ? AND send_reminder = ? AND reminder_sent = ? AND starts_at > ? AND starts_at <= ?",
			StatusApproved, true, false, now.UTC(), now.Add(lead).UTC()).
		Order("starts_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取待提醒的活动: %w", err)
	}
	return events, nil
}

// DeleteByExpert 删除专家的全部活动，用于注销专家
func (r *Repository) DeleteByExpert(ctx context.Context, expertID int64) error {
	if err := r.db.WithContext(ctx).Where("expert_id = ?", expertID).Delete(&Event{}).Error; err != nil {
		return fmt.Errorf("无法删除专家 %d 的活动: %w", expertID, err)
	}
	return nil
}

// WithTx 返回绑定到事务的仓库
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}
