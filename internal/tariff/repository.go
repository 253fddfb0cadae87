package tariff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

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

// ListActive 按价格降序返回启用的档位
func (r *Repository) ListActive(ctx context.Context) ([]Tariff, error) {
	var tariffs []Tariff
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("price DESC").Find(&tariffs).Error; err != nil {
		return nil, fmt.Errorf("无法读取档位列表: %w", err)
	}
	return tariffs, nil
}

// FindByCode 按编码查找档位，不存在时返回nil
func (r *Repository) FindByCode(ctx context.Context, code string) (*Tariff, error) {
	var t Tariff
	err := r.db.WithContext(ctx).Where("code = ?", code).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取档位 %s: %w", code, err)
	}
	return &t, nil
}

// GetSubscription 返回用户的订阅，不存在时返回nil
func (r *Repository) GetSubscription(ctx context.Context, userID int64) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取用户 %d 的订阅: %w", userID, err)
	}
	return &sub, nil
}

// ActivateSubscription 以 upsert 的方式写入激活的订阅
func (r *Repository) ActivateSubscription(ctx context.Context, userID int64, amount decimal.Decimal, next *time.Time) error {
	sub := Subscription{
		UserID:          userID,
		IsActive:        true,
		Amount:          amount,
		Status:          StatusActive,
		NextPaymentDate: next,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "amount", "status", "next_payment_date", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("无法激活用户 %d 的订阅: %w", userID, err)
	}
	return nil
}

// DeactivateSubscription 将订阅标记为失效，不存在的订阅会以失效状态写入
func (r *Repository) DeactivateSubscription(ctx context.Context, userID int64, status string) error {
	sub := Subscription{
		UserID:   userID,
		IsActive: false,
		Amount:   decimal.Zero,
		Status:   status,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active", "status", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("无法停用用户 %d 的订阅: %w", userID, err)
	}
	return nil
}

// DeleteSubscription 删除用户的订阅，用于注销专家
func (r *Repository) DeleteSubscription(ctx context.Context, userID int64) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&Subscription{}).Error; err != nil {
		return fmt.Errorf("无法删除用户 %d 的订阅: %w", userID, err)
	}
	return nil
}
