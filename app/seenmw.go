package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type SeenToucher interface {
	TouchUserSeen(ctx context.Context, userID string) error
}

// TouchLastSeen writes last_seen_at at most once per throttle window per
// user. Failures never block the request.
func TouchLastSeen(users SeenToucher, rdb *redis.Client, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString(ctxUserID)
		if uid == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := "user:lastseen:" + uid
		if ok, err := rdb.SetNX(ctx, key, "1", throttle).Result(); err == nil && ok {
			if err := users.TouchUserSeen(ctx, uid); err != nil {
				Logger(c).Warn("touch last seen", zap.String("user_id", uid), zap.Error(err))
			}
		}
		c.Next()
	}
}
