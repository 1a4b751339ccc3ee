package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"community_core/internal/auth"
	"community_core/internal/pkg"
	"community_core/internal/repository/redis"
)

// resolve 校验 Bearer token 并与 redis 中的登录态比对；成功后续期
func resolve(c *gin.Context, tokens *redis.UserRepository) (auth.Identity, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return auth.Identity{}, "missing authorization header"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return auth.Identity{}, "invalid authorization format"
	}
	tokenStr := parts[1]

	claims, err := pkg.ParseAccess(tokenStr)
	if err != nil {
		return auth.Identity{}, "invalid or expired token"
	}

	// redis校验是否是正确的token
	origin, err := tokens.GetUserToken(c.Request.Context(), claims.UserID)
	if err != nil || origin != tokenStr {
		return auth.Identity{}, "account has been logged in elsewhere"
	}

	// 校验通过后更新过期时间
	_ = tokens.ExtendUserToken(c.Request.Context(), claims.UserID)
	return auth.User(claims.UserID), ""
}

// AuthMiddleware 必须登录
func AuthMiddleware(tokens *redis.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, msg := resolve(c, tokens)
		if id.Anonymous() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": pkg.ErrUnauthorized, "msg": msg})
			return
		}
		// 注入 identity
		c.Set(auth.ContextIdentityKey, id)
		c.Next()
	}
}

// OptionalAuth 公开接口：带了有效 token 就识别身份，否则按匿名处理
func OptionalAuth(tokens *redis.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			if id, _ := resolve(c, tokens); !id.Anonymous() {
				c.Set(auth.ContextIdentityKey, id)
			}
		}
		c.Next()
	}
}
