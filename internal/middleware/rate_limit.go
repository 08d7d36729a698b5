package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"forum/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter is satisfied by cache.RedisCache.
type Limiter interface {
	AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimitMiddleware caps how often one user may perform action. It must
// run after JWTAuthMiddleware. When the limiter is unavailable requests are
// let through.
func RateLimitMiddleware(limiter Limiter, action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, err := utils.GetUserID(c)
		if err != nil {
			utils.Error(c, http.StatusUnauthorized, err.Error())
			return
		}
		key := fmt.Sprintf("rate:limit:%s:%s", userID, action)

		allowed, err := limiter.AllowRequest(c.Request.Context(), key, limit, window)
		if err != nil {
			zap.L().Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			utils.Error(c, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		c.Next()
	}
}
