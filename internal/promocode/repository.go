package promocode

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create 插入促销码
func (r *Repository) Create(ctx context.Context, c *Code) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("无法创建促销码 %s: %w", c.Code, err)
	}
	return nil
}

// FindByID 按ID查找促销码，不存在时返回nil
func (r *Repository) FindByID(ctx context.Context, id uint) (*Code, error) {
	var c Code
	err := r.db.WithContext(ctx).Take(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取促销码 %d: %w", id, err)
	}
	return &c, nil
}

// FindByCode 按编码查找促销码，不存在时返回nil
func (r *Repository) FindByCode(ctx context.Context, code string) (*Code, error) {
	var c Code
	err := r.db.WithContext(ctx).Where("code = ?", code).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取促销码 %s: %w", code, err)
	}
	return &c, nil
}

// Save 保存促销码的全部字段
func (r *Repository) Save(ctx context.Context, c *Code) error {
	if err := r.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("无法更新促销码 %d: %w", c.ID, err)
	}
	return nil
}

// Delete 删除促销码及其使用记录，返回是否存在
func (r *Repository) Delete(ctx context.Context, id uint) (bool, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("promo_code_id = ?", id).Delete(&Activation{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Code{}, id)
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("无法删除促销码 %d: %w", id, err)
	}
	return deleted > 0, nil
}

// List 按创建时间倒序分页返回促销码
func (r *Repository) List(ctx context.Context, page, size int) ([]Code, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Code{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("无法统计促销码: %w", err)
	}
	var codes []Code
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&codes).Error
	if err != nil {
		return nil, 0, fmt.Errorf("无法读取促销码列表: %w", err)
	}
	return codes, total, nil
}

// CountActivations 统计促销码的使用次数，userID 非0时只统计该用户
func (r *Repository) CountActivations(ctx context.Context, codeID uint, userID int64) (int64, error) {
	q := r.db.WithContext(ctx).Model(&Activation{}).Where("promo_code_id = ?", codeID)
	if userID != 0 {
		q = q.Where("user_vk_id = ?", userID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("无法统计促销码 %d 的使用次数: %w", codeID, err)
	}
	return count, nil
}

// RecordActivation 记录一次使用
func (r *Repository) RecordActivation(ctx context.Context, a *Activation) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("无法记录促销码 %d 的使用: %w", a.PromoCodeID, err)
	}
	return nil
}
