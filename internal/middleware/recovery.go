package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/metrics"
)

// Recovery turns a panic into spec §6's err_internal envelope rather
// than crashing the process, recording a panic metric on the way.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				metrics.PanicsTotal.Inc()
				stack := debug.Stack()

				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("client_ip", c.ClientIP()),
					zap.ByteString("stack", stack),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    "err_internal",
					"message": "internal error",
				})
			}
		}()

		c.Next()
	}
}