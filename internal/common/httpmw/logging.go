// Package httpmw provides shared gin middleware: request logging, panic
// recovery, and bearer-token authentication.
package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reevehq/reeve/internal/common/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger logs one structured line per request and tags each request
// with an id, honoring a caller-provided X-Request-ID.
func RequestLogger() gin.HandlerFunc {
	log := logger.Default().WithComponent("http")

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(string(logger.RequestIDKey), requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		entry := log.WithFields(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			zap.String("client_ip", c.ClientIP()),
		)

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

// Recovery converts handler panics into 500 responses instead of killing
// the daemon.
func Recovery() gin.HandlerFunc {
	log := logger.Default().WithComponent("http")

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
