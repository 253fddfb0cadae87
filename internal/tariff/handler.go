package tariff

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

// List 返回档位目录
func (h *Handler) List(c *gin.Context) {
	tariffs, err := h.svc.List(c.Request.Context())
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tariffs": tariffs})
}

// MyUsage 返回当前用户的有效档位与当月额度
func (h *Handler) MyUsage(c *gin.Context) {
	userID, ok := web.MustUserID(c)
	if !ok {
		return
	}
	usage, err := h.svc.Usage(c.Request.Context(), userID, time.Now().UTC())
	if err != nil {
		web.Error(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
