package event

import (
	"context"
	"time"

	"github.com/SlpAus/expert-rating-backend/pkg/lifecycle"
	"go.uber.org/zap"
)

// StartReminderScheduler 定期检查即将开始的活动并提醒创建者，直到收到停机信号
func StartReminderScheduler(handle *lifecycle.Handle, svc *Service, interval, lead time.Duration, log *zap.Logger) {
	defer handle.Close()
	log.Info("活动提醒调度器已启动", zap.Duration("interval", interval), zap.Duration("lead", lead))

	handle.Tick(interval, func(ctx context.Context) {
		sent, err := svc.SendDueReminders(ctx, lead)
		if err != nil {
			log.Warn("发送活动提醒失败", zap.Error(err))
			return
		}
		if sent > 0 {
			log.Info("已发送活动提醒", zap.Int("count", sent))
		}
	})
	log.Info("活动提醒调度器已停止")
}
