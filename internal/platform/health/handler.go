package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler 返回当前状态，非健康时使用503
func (c *Checker) Handler(ctx *gin.Context) {
	state := c.State()
	code := http.StatusOK
	if state != StateHealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, gin.H{"status": state.String()})
}

// RequireWritable 在系统非健康时拒绝写请求，读请求照常放行
func (c *Checker) RequireWritable() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		switch ctx.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			ctx.Next()
			return
		}
		if state := c.State(); state != StateHealthy {
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "服务暂时不可用，请稍后重试",
				"code":  "service_" + state.String(),
			})
			return
		}
		ctx.Next()
	}
}
