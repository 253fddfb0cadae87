package api

import (
	"github.com/SlpAus/expert-rating-backend/internal/identity"
	"github.com/SlpAus/expert-rating-backend/internal/svc"
	"github.com/gin-gonic/gin"
)

// SetupRoutes 注册项目的所有API路由
func SetupRoutes(router *gin.Engine, sc *svc.ServiceContext) {
	router.GET("/health", sc.Health.Handler)

	// VK回调与支付通知不带用户令牌，分别由回调密钥和请求签名校验
	router.POST("/vk/callback", sc.PaymentHandler.Callback)
	router.POST("/vk/payment", sc.PaymentHandler.Order)

	api := router.Group("/api", sc.Health.RequireWritable())

	// 公开路由
	{
		api.GET("/tariffs", sc.TariffHandler.List)
		api.GET("/experts/top", sc.ExpertHandler.Top)
		api.GET("/experts/:id", sc.ExpertHandler.Get)
		api.GET("/experts/:id/votes", sc.VoteHandler.Received)
		api.GET("/events/feed", sc.EventHandler.Feed)
		api.GET("/events/availability", sc.EventHandler.Availability)
		api.GET("/events/expert/:id", sc.EventHandler.ByExpert)
	}

	auth := api.Group("", identity.Middleware(sc.Resolver, sc.Log.Named("identity")))
	{
		auth.GET("/me", sc.ExpertHandler.Me)
		auth.DELETE("/me", sc.ExpertHandler.DeleteMe)
		auth.PUT("/me/notifications", sc.ExpertHandler.SetNotifications)
		auth.GET("/me/tariff", sc.TariffHandler.MyUsage)
		auth.GET("/me/votes", sc.VoteHandler.History)

		auth.POST("/experts/register", sc.ExpertHandler.Register)

		auth.POST("/events", sc.EventHandler.Create)
		auth.GET("/events/mine", sc.EventHandler.Mine)
		auth.POST("/events/:id/stop", sc.EventHandler.Stop)
		auth.DELETE("/events/:id", sc.EventHandler.Delete)
		auth.GET("/events/status/:promo", sc.VoteHandler.Status)

		auth.POST("/votes", sc.VoteHandler.Submit)
		auth.POST("/votes/withdraw", sc.VoteHandler.Withdraw)

		auth.POST("/promo/apply", sc.PromoHandler.Apply)
	}

	admin := auth.Group("/admin", identity.AdminOnly(sc.Config.Admin.IsAdmin))
	{
		admin.GET("/users", sc.ExpertHandler.Users)
		admin.GET("/experts/pending", sc.ExpertHandler.Pending)
		admin.POST("/experts/:id/approve", sc.ExpertHandler.Approve)
		admin.POST("/experts/:id/reject", sc.ExpertHandler.Reject)
		admin.DELETE("/experts/:id", sc.ExpertHandler.Delete)

		admin.GET("/events/pending", sc.EventHandler.Pending)
		admin.POST("/events/:id/approve", sc.EventHandler.Approve)
		admin.POST("/events/:id/reject", sc.EventHandler.Reject)

		admin.GET("/promo", sc.PromoHandler.List)
		admin.POST("/promo", sc.PromoHandler.Create)
		admin.PUT("/promo/:id", sc.PromoHandler.Update)
		admin.DELETE("/promo/:id", sc.PromoHandler.Delete)
	}
}
