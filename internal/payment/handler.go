package payment

import (
	"encoding/json"
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

// Callback 接收VK回调。VK只认纯文本响应，非 "ok" 的响应会触发重试。
func (h *Handler) Callback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		web.BadRequest(c, err)
		return
	}
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		web.BadRequest(c, err)
		return
	}

	body, err := h.svc.HandleCallback(c.Request.Context(), cb)
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.String(http.StatusOK, body)
}

// Order 接收VK支付通知。请求是表单编码，响应总是200，结果写在JSON的 response 或 error 中。
func (h *Handler) Order(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		web.BadRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.HandleOrder(c.Request.Context(), c.Request.PostForm))
}
