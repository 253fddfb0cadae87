package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/expert-rating-backend/pkg/lifecycle"
	"go.uber.org/zap"
)

const (
	httpTimeout     = 15 * time.Second
	gracefulTimeout = 30 * time.Second
	forcefulTimeout = 1 * time.Second
)

// Closer 是停机最后阶段需要释放的资源
type Closer struct {
	Name  string
	Close func() error
}

// Coordinator 负责编排应用程序的优雅停机流程。
// 它接收外部创建的生命周期管理器，并使用它们来协调停机。
type Coordinator struct {
	GracefulManager *lifecycle.Manager
	ForcefulManager *lifecycle.Manager
	log             *zap.Logger
	closers         []Closer
}

// NewCoordinator 创建一个新的停机协调器。closers 按传入顺序在最后关闭。
func NewCoordinator(gracefulMgr, forcefulMgr *lifecycle.Manager, log *zap.Logger, closers ...Closer) *Coordinator {
	return &Coordinator{
		GracefulManager: gracefulMgr,
		ForcefulManager: forcefulMgr,
		log:             log,
		closers:         closers,
	}
}

// ListenForSignalsAndShutdown 启动信号监听并阻塞，直到停机流程完成。
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 阻塞直到接收到停机信号
	sig := <-sigChan
	c.log.Info("收到关闭信号，开始优雅停机", zap.String("signal", sig.String()))
	c.Shutdown(server)
}

// Shutdown 依次关闭HTTP服务器、后台服务与底层连接
func (c *Coordinator) Shutdown(server *http.Server) {
	// 关闭HTTP服务器，允许正在进行的请求完成
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.log.Error("HTTP服务器关闭错误", zap.Error(err))
		} else {
			c.log.Info("HTTP服务器已关闭")
		}
	}

	// --- 阶段一: 优雅停机 ---
	c.log.Info("第一阶段停机：等待后台任务完成", zap.Duration("timeout", gracefulTimeout))
	c.GracefulManager.Shutdown()

	remainingServices := c.GracefulManager.WaitWithTimeout(gracefulTimeout)
	if len(remainingServices) == 0 {
		c.log.Info("所有服务已在第一阶段优雅关闭")
	} else {
		// --- 阶段二: 强制停机 ---
		c.log.Warn("第一阶段超时，发送强制停机信号",
			zap.Strings("remaining", remainingServices),
			zap.Duration("timeout", forcefulTimeout))
		c.ForcefulManager.Shutdown()
		if left := c.ForcefulManager.WaitWithTimeout(forcefulTimeout); len(left) > 0 {
			c.log.Error("强制停机后仍有服务未退出", zap.Strings("remaining", left))
		}
	}

	// --- 最终步骤 ---
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.log.Error("关闭资源失败", zap.String("resource", closer.Name), zap.Error(err))
		} else {
			c.log.Info("资源已关闭", zap.String("resource", closer.Name))
		}
	}
	c.log.Info("优雅停机完成")
}
