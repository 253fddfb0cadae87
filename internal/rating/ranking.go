package rating

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// 排行榜需要连接用户与专家档案表，这两张表由 expert 包定义
const (
	usersTable   = "users"
	expertsTable = "expert_profiles"
)

// RankExperts 返回已通过审核的专家排行，按净信任度降序，再按姓、名、ID升序打破平局
func (r *Repository) RankExperts(ctx context.Context, f RankFilter) ([]RankedExpert, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 {
		f.Size = 20
	}

	// 1. 统计满足条件的专家总数
	var total int64
	if err := r.approvedExperts(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("无法统计专家数量: %w", err)
	}

	// 2. 取出当前页，评分通过左连接聚合，没有评分的专家净值为0
	var rows []RankedExpert
	err := r.approvedExperts(ctx, f).
		Select(`u.vk_id AS expert_id, u.first_name, u.last_name, u.photo_url, p.region,
			COALESCE(SUM(CASE WHEN r.vote_value > 0 THEN 1 ELSE 0 END), 0) AS trust,
			COALESCE(SUM(CASE WHEN r.vote_value < 0 THEN 1 ELSE 0 END), 0) AS distrust,
			COALESCE(SUM(r.vote_value), 0) AS net`).
		Joins("LEFT JOIN expert_ratings AS r ON r.expert_id = p.user_vk_id").
		Group("u.vk_id, u.first_name, u.last_name, u.photo_url, p.region").
		Order("net DESC, u.last_name ASC, u.first_name ASC, u.vk_id ASC").
		Limit(f.Size).
		Offset((f.Page - 1) * f.Size).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("无法查询专家排行: %w", err)
	}
	return rows, total, nil
}

func (r *Repository) approvedExperts(ctx context.Context, f RankFilter) *gorm.DB {
	q := r.db.WithContext(ctx).
		Table(expertsTable+" AS p").
		Joins("JOIN "+usersTable+" AS u ON u.vk_id = p.user_vk_id").
		Where("p.status = ?", "approved")

	if region := strings.TrimSpace(f.Region); region != "" {
		q = q.Where("p.region = ?", region)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(u.first_name) LIKE ? OR LOWER(u.last_name) LIKE ?)", pattern, pattern)
	}
	return q
}
