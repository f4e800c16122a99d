// Package metrics exposes the Prometheus gauges/counters/histograms
// the control plane records across the HTTP surface, the Resource
// Store, the Broker Adapter, and the process-local Cache, grounded on
// the teacher's internal/metrics/metrics.go (promauto registration
// style, Record*/Update* helper functions) but renamed off the OVN
// domain onto this system's own resources and operations.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "endpoint"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "endpoint"},
	)

	// Resource Store (C2/C3) metrics.
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"query_type", "table", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controlplane_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Resource population gauges, set through UpdateResourceCounts;
	// cmd/api does not call it, so they stay at zero there.
	UnitsTotal        = promauto.NewGauge(prometheus.GaugeOpts{Name: "controlplane_units_total", Help: "Total number of units"})
	ApplicationsTotal = promauto.NewGauge(prometheus.GaugeOpts{Name: "controlplane_applications_total", Help: "Total number of applications"})
	NetworksTotal     = promauto.NewGauge(prometheus.GaugeOpts{Name: "controlplane_networks_total", Help: "Total number of networks"})
	DevicesTotal      = promauto.NewGauge(prometheus.GaugeOpts{Name: "controlplane_devices_total", Help: "Total number of devices"})

	// Token Service (C1) metrics.
	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_auth_requests_total",
			Help: "Total number of authentication requests",
		},
		[]string{"grant", "status"},
	)

	ActiveSessionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "controlplane_active_sessions_total",
			Help: "Total number of active login sessions",
		},
	)

	// Broker Adapter (C5) metrics.
	BrokerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_broker_operations_total",
			Help: "Total number of broker adapter operations",
		},
		[]string{"operation", "status"},
	)

	BrokerCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controlplane_broker_circuit_state",
			Help: "Circuit breaker state per endpoint (0=closed,1=half-open,2=open)",
		},
		[]string{"endpoint"},
	)

	// Process-local Cache (C4) metrics.
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "controlplane_cache_hits_total", Help: "Total number of cache hits"},
		[]string{"cache_name"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "controlplane_cache_misses_total", Help: "Total number of cache misses"},
		[]string{"cache_name"},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "controlplane_cache_evictions_total", Help: "Total number of cache evictions"},
		[]string{"cache_name"},
	)

	// Routing Engine (C7) metrics.
	RoutingMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_routing_messages_total",
			Help: "Total number of uplink/downlink/control messages processed",
		},
		[]string{"pipeline", "status"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "controlplane_errors_total", Help: "Total number of errors"},
		[]string{"component", "error_type"},
	)

	PanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Name: "controlplane_panics_total", Help: "Total number of panics recovered"},
	)

	GoroutinesCount = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "controlplane_goroutines_count", Help: "Current number of goroutines"},
		func() float64 { return float64(runtime.NumGoroutine()) },
	)

	MemoryUsageBytes = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "controlplane_memory_usage_bytes", Help: "Current memory usage in bytes"},
		func() float64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)
		},
	)

	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "controlplane_build_info", Help: "Build information"},
		[]string{"version", "commit", "build_time"},
	)
)

// RecordHTTPRequest records one completed HTTP request's metrics.
func RecordHTTPRequest(method, endpoint, status string, duration float64, requestSize, responseSize int64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
	if requestSize > 0 {
		HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
	}
}

// RecordDBQuery records one Resource Store query's metrics.
func RecordDBQuery(queryType, table, status string, duration float64) {
	DBQueriesTotal.WithLabelValues(queryType, table, status).Inc()
	DBQueryDuration.WithLabelValues(queryType, table).Observe(duration)
}

// RecordAuth records one Token Service grant attempt.
func RecordAuth(grant, status string) {
	AuthRequestsTotal.WithLabelValues(grant, status).Inc()
}

// RecordBrokerOperation records one Broker Adapter call.
func RecordBrokerOperation(operation, status string) {
	BrokerOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCacheOperation records one Cache (C4) lookup outcome.
func RecordCacheOperation(cacheName string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

// RecordRoutingMessage records one message the Routing Engine (C7)
// handled on the named pipeline (uplink/downlink/downlink-result/bulk).
func RecordRoutingMessage(pipeline, status string) {
	RoutingMessagesTotal.WithLabelValues(pipeline, status).Inc()
}

// RecordError records one classified application error.
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateResourceCounts refreshes the resource population gauges.
func UpdateResourceCounts(units, applications, networks, devices float64) {
	UnitsTotal.Set(units)
	ApplicationsTotal.Set(applications)
	NetworksTotal.Set(networks)
	DevicesTotal.Set(devices)
}

// UpdateDBConnectionMetrics updates database connection pool metrics.
func UpdateDBConnectionMetrics(active, idle int) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}
