package health

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 定义了系统健康状态的枚举类型
type State int

const (
	StateHealthy State = iota
	StateDegraded
	// StateRecovering 表示Redis刚刚重启：重启前持有的锁与幂等标记已经丢失，
	// 在宽限期结束前不接受写请求，等待旧的临界区全部退出
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// Sample 是一次检查的结果
type Sample struct {
	DatabaseOK bool
	RedisOK    bool
	RunID      string
}

// statusManager 负责线程安全地管理和提供系统的健康状态。
type statusManager struct {
	mu             sync.RWMutex
	currentState   State
	lastKnownRunID string
	recoverUntil   time.Time
	grace          time.Duration
	log            *zap.Logger
}

func newStatusManager(grace time.Duration, log *zap.Logger) *statusManager {
	return &statusManager{currentState: StateHealthy, grace: grace, log: log}
}

// State 返回当前的系统健康状态。
func (sm *statusManager) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// SetInitialRunID 在启动时记录Redis的run_id
func (sm *statusManager) SetInitialRunID(runID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastKnownRunID = runID
}

// Assess 根据一次检查结果决定下一个状态
func (sm *statusManager) Assess(p Sample, now time.Time) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	prev := sm.currentState
	restarted := p.RedisOK && sm.lastKnownRunID != "" && p.RunID != "" && sm.lastKnownRunID != p.RunID

	switch {
	case !p.DatabaseOK || !p.RedisOK:
		sm.currentState = StateDegraded
	case restarted:
		sm.currentState = StateRecovering
		sm.recoverUntil = now.Add(sm.grace)
		sm.log.Warn("检测到Redis重启，锁与幂等标记已丢失",
			zap.String("old_run_id", sm.lastKnownRunID),
			zap.String("new_run_id", p.RunID),
			zap.Time("recover_until", sm.recoverUntil))
	case now.Before(sm.recoverUntil):
		// 宽限期内即使中途降级过也回到恢复状态
		sm.currentState = StateRecovering
	default:
		sm.currentState = StateHealthy
	}

	if p.RedisOK && p.RunID != "" {
		sm.lastKnownRunID = p.RunID
	}

	if prev != sm.currentState {
		sm.log.Info("系统状态变化",
			zap.Stringer("from", prev),
			zap.Stringer("to", sm.currentState),
			zap.Bool("database_ok", p.DatabaseOK),
			zap.Bool("redis_ok", p.RedisOK))
	}
	return sm.currentState
}
