package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the controlplane_* series internal/metrics
// registers, scraped by Prometheus per spec's ambient observability
// stack.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
