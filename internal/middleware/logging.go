package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"youth-mis/internal/logger"
)

// RequestLogger logs one line per request. Server errors log at error level.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		}
		if caller, ok := CallerFromContext(c); ok {
			args = append(args, "user", caller.UserID)
		}
		switch {
		case status >= 500:
			log.Error("request", args...)
		case status >= 400:
			log.Warn("request", args...)
		default:
			log.Debug("request", args...)
		}
	}
}
