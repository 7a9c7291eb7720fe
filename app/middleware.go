package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/session"
)

const (
	RequestIDHeader = "X-Request-ID"

	ctxRequestID = "requestID"
	ctxLogger    = "logger"
)

var ErrRateLimited = apperr.New(apperr.KindRateLimited, "RATE_LIMITED", "too many attempts, try again later")

// RequestID reuses the caller's X-Request-ID or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logger returns the request-scoped logger, or the global one outside a
// request chain.
func Logger(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.L()
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := log.With(zap.String("request_id", c.GetString(ctxRequestID)))
		c.Set(ctxLogger, reqLog)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if uid := c.GetString(ctxUserID); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		switch {
		case status >= 500:
			reqLog.Error("request", fields...)
		case status >= 400:
			reqLog.Warn("request", fields...)
		default:
			reqLog.Info("request", fields...)
		}
	}
}

func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		log.Error("panic recovered",
			zap.Any("panic", rec),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Stack("stack"),
		)
		abort(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	})
}

// BodyLimit caps request bodies; reading past the cap fails with
// *http.MaxBytesError, which Fail turns into 413.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// RateLimit counts requests per key in fixed windows. Redis errors let the
// request through.
func RateLimit(l *session.Limiter, prefix string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), prefix+":"+c.ClientIP(), limit, window)
		if err != nil {
			Logger(c).Warn("rate limiter unavailable", zap.Error(err))
		}
		if err == nil && !ok {
			Fail(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
