package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// RequestLogger 生成请求 ID、输出访问日志并记录 HTTP 指标
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, requestID := logging.WithRequestID(c.Request.Context(), c.GetHeader(RequestIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		if m != nil {
			m.ObserveHTTP(c.Request.Method, path, status, elapsed)
		}

		var ev *zerolog.Event
		log := logging.Ctx(ctx)
		switch {
		case status >= 500:
			ev = log.Error()
		case len(c.Errors) > 0:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if userID, ok := GetUserID(c); ok {
			ev = ev.Int64("user_id", userID)
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
