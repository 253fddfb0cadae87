package promocode

import (
	"net/http"

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

// Apply 计算当前用户使用促销码后的档位价格
func (h *Handler) Apply(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	var body ApplyInput
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	quote, err := h.svc.Apply(c.Request.Context(), userID, body)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// List 分页返回促销码（管理员）
func (h *Handler) List(c *gin.Context) {
	page, size := web.Page(c)
	items, total, err := h.svc.List(c.Request.Context(), page, size)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "size": size})
}

// Create 创建促销码（管理员）
func (h *Handler) Create(c *gin.Context) {
	var body Input
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	code, err := h.svc.Create(c.Request.Context(), body)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

// Update 修改促销码（管理员）
func (h *Handler) Update(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	var body Input
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	code, err := h.svc.Update(c.Request.Context(), uint(id), body)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// Delete 删除促销码（管理员）
func (h *Handler) Delete(c *gin.Context) {
	id, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), uint(id)); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
