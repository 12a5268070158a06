package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the toxicity log service
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	RecordsIngestedTotal    *prometheus.CounterVec
	IngestionRejectedTotal  *prometheus.CounterVec
	IngestedConfidenceScore *prometheus.HistogramVec

	// Admin metrics
	AuthFailuresTotal *prometheus.CounterVec
	RecordsDeleted    *prometheus.CounterVec
	ExportsTotal      *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec
	DatabaseConnections       prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics on a fresh registry
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,

		// Ingestion metrics
		RecordsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_records_ingested_total",
				Help: "Total number of classification records stored",
			},
			[]string{"prediction", "source"},
		),

		IngestionRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_ingestion_rejected_total",
				Help: "Total number of ingestion requests rejected",
			},
			[]string{"reason"},
		),

		IngestedConfidenceScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toxlog_ingested_confidence",
				Help:    "Confidence of stored classification records",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"prediction"},
		),

		// Admin metrics
		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_auth_failures_total",
				Help: "Total number of rejected admin authentication attempts",
			},
			[]string{"reason"},
		),

		RecordsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_records_deleted_total",
				Help: "Total number of records deleted by admins",
			},
			[]string{"mode"},
		),

		ExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_exports_total",
				Help: "Total number of log exports",
			},
			[]string{"format", "status"},
		),

		// Storage metrics
		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toxlog_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toxlog_database_connections",
				Help: "Number of open database connections",
			},
		),

		// API metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toxlog_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toxlog_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toxlog_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toxlog_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toxlog_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toxlog_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIngested records a stored classification record
func (m *PrometheusMetrics) RecordIngested(prediction, source string, confidence float64) {
	m.RecordsIngestedTotal.WithLabelValues(prediction, source).Inc()
	m.IngestedConfidenceScore.WithLabelValues(prediction).Observe(confidence)
}

// RecordIngestionRejected records a rejected ingestion request
func (m *PrometheusMetrics) RecordIngestionRejected(reason string) {
	m.IngestionRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordAuthFailure records a rejected admin request
func (m *PrometheusMetrics) RecordAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordDeleted records admin deletions
func (m *PrometheusMetrics) RecordDeleted(mode string, count int64) {
	m.RecordsDeleted.WithLabelValues(mode).Add(float64(count))
}

// RecordExport records an export attempt
func (m *PrometheusMetrics) RecordExport(format, status string) {
	m.ExportsTotal.WithLabelValues(format, status).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateDatabaseConnections updates the open connection gauge
func (m *PrometheusMetrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health gauge of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
