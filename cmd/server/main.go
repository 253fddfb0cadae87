package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/SlpAus/expert-rating-backend/api"
	"github.com/SlpAus/expert-rating-backend/internal/event"
	"github.com/SlpAus/expert-rating-backend/internal/notify"
	"github.com/SlpAus/expert-rating-backend/internal/platform/config"
	"github.com/SlpAus/expert-rating-backend/internal/platform/database"
	"github.com/SlpAus/expert-rating-backend/internal/platform/logger"
	"github.com/SlpAus/expert-rating-backend/internal/platform/shutdown"
	"github.com/SlpAus/expert-rating-backend/internal/svc"
	"github.com/SlpAus/expert-rating-backend/pkg/lifecycle"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckInterval = 5 * time.Second

func main() {
	// 1. 加载配置并初始化日志
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("无法加载配置: " + err.Error())
	}
	if err := logger.Initialize(logger.Configuration{
		LogFile:   cfg.Log.File,
		ErrorFile: cfg.Log.ErrorFile,
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
	}); err != nil {
		panic("无法初始化日志: " + err.Error())
	}
	defer logger.Sync()
	log := logger.L()

	// 2. 连接数据库与Redis
	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	if err := svc.Migrate(db); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}
	rdb, err := database.OpenRedis(context.Background(), cfg.Database.Redis)
	if err != nil {
		logger.Fatal("Redis连接失败", zap.Error(err))
	}

	// 3. 生命周期管理器：优雅阶段等待任务完成，强制阶段要求立即退出
	gracefulMgr := lifecycle.NewManager("graceful", log)
	forcefulMgr := lifecycle.NewManager("forceful", log)

	var notifier notify.Notifier = notify.Discard{}
	if cfg.VK.BotToken != "" {
		vkNotifier := notify.NewVKNotifier(cfg.VK, cfg.Admin.IDs, logger.Named("notify"))
		gracefulHandle, err := gracefulMgr.NewServiceHandle("notifier")
		if err != nil {
			logger.Fatal("无法注册通知发送器", zap.Error(err))
		}
		forcefulHandle, err := forcefulMgr.NewServiceHandle("notifier")
		if err != nil {
			logger.Fatal("无法注册通知发送器", zap.Error(err))
		}
		go vkNotifier.Start(gracefulHandle, forcefulHandle)
		notifier = vkNotifier
	} else {
		logger.Warn("未配置 vk.bot_token，通知将被丢弃")
	}

	sc, err := svc.NewServiceContext(cfg, db, rdb, notifier, log)
	if err != nil {
		logger.Fatal("服务装配失败", zap.Error(err))
	}

	// 4. 启动后台任务
	if err := sc.Health.Initialize(context.Background()); err != nil {
		logger.Fatal("启动健康检查失败", zap.Error(err))
	}
	sc.Health.PerformCheck(context.Background())

	healthHandle, err := gracefulMgr.NewServiceHandle("health")
	if err != nil {
		logger.Fatal("无法注册健康检查器", zap.Error(err))
	}
	go sc.Health.Run(healthHandle, healthCheckInterval)

	reminderHandle, err := gracefulMgr.NewServiceHandle("reminder")
	if err != nil {
		logger.Fatal("无法注册活动提醒调度器", zap.Error(err))
	}
	go event.StartReminderScheduler(reminderHandle, sc.Events, cfg.Event.ReminderInterval, cfg.Event.ReminderLead, logger.Named("reminder"))

	// 5. HTTP服务
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	api.SetupRoutes(r, sc)

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}
	go func() {
		logger.Info("服务器已准备就绪，开始监听", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	coordinator := shutdown.NewCoordinator(gracefulMgr, forcefulMgr, log,
		shutdown.Closer{Name: "redis", Close: rdb.Close},
		shutdown.Closer{Name: "database", Close: func() error { return database.Close(db) }},
	)
	coordinator.ListenForSignalsAndShutdown(server)
}
