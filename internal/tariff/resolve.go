package tariff

import (
	"sort"
	"time"
)

// Resolve 从档位列表中选出订阅对应的档位。
// 订阅不存在或未激活时取免费档；否则取价格不超过订阅金额的最高档。
func Resolve(tariffs []Tariff, sub *Subscription) (Tariff, bool) {
	if len(tariffs) == 0 {
		return Tariff{}, false
	}

	sorted := make([]Tariff, len(tariffs))
	copy(sorted, tariffs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price.GreaterThan(sorted[j].Price)
	})
	free := sorted[len(sorted)-1]

	if sub == nil || !sub.IsActive {
		return free, true
	}
	for _, t := range sorted {
		if t.Price.LessThanOrEqual(sub.Amount) {
			return t, true
		}
	}
	return free, true
}

// MonthStart 返回 now 所在自然月第一天零点（UTC）
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
