package event

import (
	"net/http"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/platform/web"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Create 处理专家创建活动的请求
func (h *Handler) Create(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	var body CreateInput
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}

	e, err := h.svc.Create(c.Request.Context(), userID, body)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

type availabilityQuery struct {
	PromoWord       string    `form:"promo_word" binding:"required"`
	StartsAt        time.Time `form:"starts_at" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	DurationMinutes int       `form:"duration_minutes" binding:"required,gt=0"`
}

// Availability 查询促销词在给定时间段是否可用
func (h *Handler) Availability(c *gin.Context) {
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		web.BadRequest(c, err)
		return
	}
	available, err := h.svc.CheckAvailability(c.Request.Context(), q.PromoWord, q.StartsAt.UTC(), q.DurationMinutes)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available, "promo_word": NormalizePromo(q.PromoWord)})
}

// Mine 返回当前专家的活动
func (h *Handler) Mine(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	events, err := h.svc.ListMine(c.Request.Context(), userID)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// Feed 返回公开的即将开始的活动
func (h *Handler) Feed(c *gin.Context) {
	page, size := web.Page(c)
	events, total, err := h.svc.PublicFeed(c.Request.Context(), page, size)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "total": total, "page": page, "size": size})
}

// ByExpert 返回专家公开主页上的活动
func (h *Handler) ByExpert(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	list, err := h.svc.ListByExpert(c.Request.Context(), id)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Stop 提前结束投票
func (h *Handler) Stop(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.Stop(c.Request.Context(), uint(id), userID)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// Delete 删除尚未开始的活动
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), uint(id), userID); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Pending 返回待审核的活动（管理员）
func (h *Handler) Pending(c *gin.Context) {
	events, err := h.svc.Pending(c.Request.Context())
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// Approve 审核通过活动（管理员）
func (h *Handler) Approve(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.Approve(c.Request.Context(), uint(id))
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type rejectBody struct {
	Reason string `json:"reason" binding:"required"`
}

// Reject 拒绝活动（管理员）
func (h *Handler) Reject(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	e, err := h.svc.Reject(c.Request.Context(), uint(id), body.Reason)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, e)
}
