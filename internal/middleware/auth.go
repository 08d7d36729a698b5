package middleware

import (
	"net/http"
	"strings"

	"forum/config"
	"forum/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	// browsers cannot set headers on a WebSocket handshake
	return c.Query("access_token")
}

// JWTAuthMiddleware rejects requests without a valid bearer token.
func JWTAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c)
		if raw == "" {
			utils.Error(c, http.StatusUnauthorized, "sign in to interact")
			return
		}
		claims, err := utils.ValidateToken(cfg, raw)
		if err != nil {
			zap.L().Debug("token rejected", zap.Error(err))
			utils.Error(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		utils.SetActor(c, claims)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets
// anonymous requests through otherwise.
func OptionalAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearer(c); raw != "" {
			if claims, err := utils.ValidateToken(cfg, raw); err == nil {
				utils.SetActor(c, claims)
			}
		}
		c.Next()
	}
}
