package expert

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// DB 返回底层连接，用于开启跨仓库的事务
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// UpsertUser 写入用户；已存在时只刷新姓名与头像
func (r *Repository) UpsertUser(ctx context.Context, u *User) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vk_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "photo_url", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return fmt.Errorf("无法写入用户 %d: %w", u.VKID, err)
	}
	return nil
}

// EnsureUser 在用户不存在时创建，已存在的用户保持不变
func (r *Repository) EnsureUser(ctx context.Context, u *User) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(u).Error
	if err != nil {
		return fmt.Errorf("无法创建用户 %d: %w", u.VKID, err)
	}
	return nil
}

// GetUser 返回用户，不存在时返回nil
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("vk_id = ?", id).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取用户 %d: %w", id, err)
	}
	return &u, nil
}

// GetProfile 返回专家档案，不存在时返回nil
func (r *Repository) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	var p Profile
	err := r.db.WithContext(ctx).Where("user_vk_id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取专家档案 %d: %w", id, err)
	}
	return &p, nil
}

// SaveProfile 保存专家档案（插入或整体更新）
func (r *Repository) SaveProfile(ctx context.Context, p *Profile) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("无法保存专家档案 %d: %w", p.UserVKID, err)
	}
	return nil
}

// SetStatus 更新专家档案的审核状态
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Profile{}).Where("user_vk_id = ?", id).
		Updates(map[string]any{"status": status, "rejection_reason": reason})
	if res.Error != nil {
		return false, fmt.Errorf("无法更新专家 %d 的状态: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IsApproved 判断用户是否为已通过审核的专家
func (r *Repository) IsApproved(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Profile{}).
		Where("user_vk_id = ? AND status = ?", id, StatusApproved).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("无法读取专家 %d 的状态: %w", id, err)
	}
	return count > 0, nil
}

// ListPending 返回待审核的专家申请及其用户信息
func (r *Repository) ListPending(ctx context.Context) ([]PendingApplication, error) {
	var rows []PendingApplication
	err := r.db.WithContext(ctx).
		Table("expert_profiles AS p").
		Select("p.*, u.first_name, u.last_name, u.photo_url").
		Joins("JOIN users AS u ON u.vk_id = p.user_vk_id").
		Where("p.status = ?", StatusPending).
		Order("p.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("无法读取待审核的专家申请: %w", err)
	}
	return rows, nil
}

// DeleteUser 删除用户及其专家档案
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Where("user_vk_id = ?", id).Delete(&Profile{}).Error; err != nil {
		return fmt.Errorf("无法删除专家档案 %d: %w", id, err)
	}
	if err := r.db.WithContext(ctx).Where("vk_id = ?", id).Delete(&User{}).Error; err != nil {
		return fmt.Errorf("无法删除用户 %d: %w", id, err)
	}
	return nil
}

// PendingApplication 是审核列表中的一行
type PendingApplication struct {
	Profile
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// UserListing 是管理后台用户列表中的一行，没有专家档案的用户 expert_status 为空
type UserListing struct {
	VKID         int64     `json:"vk_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	ExpertStatus Status    `json:"expert_status,omitempty"`
	Region       string    `json:"region,omitempty"`
}

// ListUsers 按注册时间倒序分页返回全部用户及其专家档案状态
func (r *Repository) ListUsers(ctx context.Context, page, size int) ([]UserListing, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("无法统计用户数量: %w", err)
	}

	var rows []UserListing
	err := r.db.WithContext(ctx).
		Table("users AS u").
		Select(`u.vk_id, u.first_name, u.last_name, u.photo_url, u.registered_at,
			COALESCE(p.status, '') AS expert_status, COALESCE(p.region, '') AS region`).
		Joins("LEFT JOIN expert_profiles AS p ON p.user_vk_id = u.vk_id").
		Order("u.registered_at DESC, u.vk_id DESC").
		Limit(size).
		Offset((page - 1) * size).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("无法读取用户列表: %w", err)
	}
	return rows, total, nil
}
