package identity

import (
	"net/http"
	"strings"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/platform/web"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BearerToken 从 Authorization 请求头中取出令牌
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, _ := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", apperr.New(apperr.KindUnauthorized, "invalid_token_format", "令牌格式错误")
	}
	return token, nil
}

// Middleware 解析请求者身份并写入Gin上下文
func Middleware(resolver Resolver, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			web.Error(c, log, err)
			c.Abort()
			return
		}
		userID, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			web.Error(c, log, err)
			c.Abort()
			return
		}
		c.Set(web.UserIDKey, userID)
		c.Next()
	}
}

// AdminOnly 只允许管理员访问，必须挂在 Middleware 之后
func AdminOnly(isAdmin func(userID int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := web.MustUserID(c)
		if !ok {
			return
		}
		if !isAdmin(userID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "权限不足", "code": "forbidden"})
			return
		}
		c.Next()
	}
}
