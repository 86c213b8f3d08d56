package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"
)

// RequestLogger writes one structured line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		emit := log.Debug
		switch {
		case status >= 500:
			emit = log.Error
		case status >= 400:
			emit = log.Warn
		}
		emit("request",
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
			logger.String("error", c.Errors.String()),
		)
	}
}
