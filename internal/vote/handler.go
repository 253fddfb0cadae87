package vote

import (
	"net/http"
	"strings"

	"github.com/SlpAus/expert-rating-backend/internal/platform/web"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyHeader 是客户端传递幂等键的请求头
const IdempotencyHeader = "Idempotency-Key"

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Submit 处理活动投票与社区投票
func (h *Handler) Submit(c *gin.Context) {
	voterID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	var body SubmitInput
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}

	res, err := h.svc.Submit(c.Request.Context(), voterID, body, strings.TrimSpace(c.GetHeader(IdempotencyHeader)))
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Withdraw 撤回投票
func (h *Handler) Withdraw(c *gin.Context) {
	voterID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	var body WithdrawInput
	if err := c.ShouldBindJSON(&body); err != nil {
		web.BadRequest(c, err)
		return
	}
	if err := h.svc.Withdraw(c.Request.Context(), voterID, body); err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Status 通过促销词查询活动状态
func (h *Handler) Status(c *gin.Context) {
	voterID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	st, err := h.svc.Status(c.Request.Context(), voterID, c.Param("promo"))
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// History 返回当前用户的投票历史
func (h *Handler) History(c *gin.Context) {
	voterID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	page, size := web.Page(c)
	items, total, err := h.svc.History(c.Request.Context(), voterID, page, size)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "size": size})
}

// Received 返回专家收到的评价
func (h *Handler) Received(c *gin.Context) {
	expertID, ok := web.Int64Param(c, "id")
	if !ok {
		return
	}
	page, size := web.Page(c)
	items, total, err := h.svc.Received(c.Request.Context(), expertID, page, size)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "size": size})
}
