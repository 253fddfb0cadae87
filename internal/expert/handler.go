package expert

import (
	"net/http"
	"strings"

	"github.com/SlpAus/expert-rating-backend/internal/platform/web"
	"github.com/SlpAus/expert-rating-backend/internal/rating"
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

// Register 提交专家申请
func (h *Handler) Register(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	var body RegisterInput
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	profile, err := h.svc.Register(c.Request.Context(), userID, body)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// Me 返回当前用户的档案
func (h *Handler) Me(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	h.writeProfile(c, userID)
}

// Get 返回指定用户的公开档案
func (h *Handler) Get(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	h.writeProfile(c, id)
}

func (h *Handler) writeProfile(c *gin.Context, userID int64) {
	view, err := h.svc.Profile(c.Request.Context(), userID)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeleteMe 注销当前用户
func (h *Handler) DeleteMe(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), userID); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type notificationsBody struct {
	Allow *bool `json:"allow" binding:"required"`
}

// SetNotifications 开关通知
func (h *Handler) SetNotifications(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	var body notificationsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	if err := h.svc.SetNotifications(c.Request.Context(), userID, *body.Allow); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allow_notifications": *body.Allow})
}

// Top 返回专家排行，支持地区过滤与姓名搜索
func (h *Handler) Top(c *gin.Context) {
	page, size := web.Page(c)
	f := rating.RankFilter{
		Page:   page,
		Size:   size,
		Region: strings.TrimSpace(c.Query("region")),
		Search: strings.TrimSpace(c.Query("q")),
	}
	items, total, err := h.svc.Top(c.Request.Context(), f)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "size": size})
}

// Pending 返回待审核的专家申请（管理员）
func (h *Handler) Pending(c *gin.Context) {
	items, err := h.svc.Pending(c.Request.Context())
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Users 返回全部用户（管理员）
func (h *Handler) Users(c *gin.Context) {
	page, size := web.Page(c)
	items, total, err := h.svc.Users(c.Request.Context(), page, size)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "size": size})
}

// Approve 通过专家申请（管理员）
func (h *Handler) Approve(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Approve(c.Request.Context(), id); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

// Reject 拒绝专家申请（管理员）
func (h *Handler) Reject(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	var body rejectBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			web.BadRequest(c, err)
			return
		}
	}
	if err := h.svc.Reject(c.Request.Context(), id, body.Reason); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete 注销指定用户（管理员）
func (h *Handler) Delete(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
