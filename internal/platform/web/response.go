// Package web 提供各个handler共用的请求上下文与错误响应辅助函数。
package web

import (
	"net/http"
	"strconv"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserIDKey 是身份中间件写入Gin上下文的键
const UserIDKey = "userID"

// UserID 读取身份中间件解析出的用户ID
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// MustUserID 读取用户ID，缺失时直接返回401
func MustUserID(c *gin.Context) (int64, bool) {
	id, ok := UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未登录", "code": "unauthorized"})
	}
	return id, ok
}

// Error 根据错误分类写出响应。内部错误只记录日志，不向客户端暴露细节。
func Error(c *gin.Context, log *zap.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		log.Error("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误", "code": "internal"})
		return
	}
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindUpstream {
		log.Warn("请求处理失败", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(appErr.Kind.HTTPStatus(), gin.H{"error": appErr.Message, "code": appErr.Code})
}

// BadRequest 用于请求体绑定失败
func BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error(), "code": "bad_request"})
}

// Int64Param 解析路径参数中的整数ID
func Int64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID: " + c.Param(name), "code": "bad_request"})
		return 0, false
	}
	return id, true
}

// Page 解析分页参数，size 被限制在 [1, 100]
func Page(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}
