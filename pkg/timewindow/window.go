// Package timewindow 提供投票窗口的半开区间判定。
// 窗口定义为 [start, start+duration)，所有窗口判断都必须经过这里。
package timewindow

import "time"

// Status 表示某一时刻相对于窗口的位置
type Status string

const (
	NotStarted Status = "not_started"
	Active     Status = "active"
	Finished   Status = "finished"
)

// End 返回窗口的结束时刻（不包含）
func End(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// IsOpen 当且仅当 start <= now < start+duration 时返回 true
func IsOpen(now, start time.Time, durationMinutes int) bool {
	return !now.Before(start) && now.Before(End(start, durationMinutes))
}

// StatusAt 返回 now 时刻窗口所处的状态
func StatusAt(now, start time.Time, durationMinutes int) Status {
	switch {
	case now.Before(start):
		return NotStarted
	case now.Before(End(start, durationMinutes)):
		return Active
	default:
		return Finished
	}
}

// Overlaps 判断两个半开区间 [aStart, aEnd) 与 [bStart, bEnd) 是否相交。
// 首尾相接不算相交。
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Expand 将区间两端各向外扩展 buffer
func Expand(start, end time.Time, buffer time.Duration) (time.Time, time.Time) {
	return start.Add(-buffer), end.Add(buffer)
}
