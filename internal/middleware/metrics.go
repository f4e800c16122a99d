package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sylvia-iot/controlplane/internal/metrics"
)

// Metrics records controlplane_http_* metrics for every request except
// the scrape endpoint itself.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		responseSize := c.Writer.Size()
		if responseSize < 0 {
			responseSize = 0
		}

		endpoint := normalizeEndpoint(c.Request.URL.Path)
		metrics.RecordHTTPRequest(c.Request.Method, endpoint, status, duration, requestSize, int64(responseSize))
	}
}

// normalizeEndpoint collapses a path's trailing ID segment so distinct
// resource instances share one metrics series, matching spec §6's
// fixed route set.
func normalizeEndpoint(path string) string {
	prefixes := []string{
		"/api/v1/unit/", "/api/v1/application/", "/api/v1/network/",
		"/api/v1/device/", "/api/v1/device-route/", "/api/v1/network-route/",
		"/api/v1/dldata-buffer/", "/api/v1/user/", "/api/v1/client/",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + ":id"
		}
	}
	return path
}
