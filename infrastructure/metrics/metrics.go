// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the resource server.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Channel broadcast fabric
	BroadcastFramesTotal      *prometheus.CounterVec
	BroadcastDroppedTotal     *prometheus.CounterVec
	ChannelConnectionsGauge   *prometheus.GaugeVec

	// Background job queue
	JobsEnqueuedTotal  *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	QueueDepthGauge    *prometheus.GaugeVec

	// Webhook dispatch
	WebhookDeliveriesTotal *prometheus.CounterVec
	WebhookDeliveryLatency *prometheus.HistogramVec

	// Rate limiter
	RateLimitDecisionsTotal *prometheus.CounterVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		BroadcastFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_broadcast_frames_total",
				Help: "Total number of channel broadcast frames sent",
			},
			[]string{"channel", "event"},
		),
		BroadcastDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "channel_broadcast_dropped_total",
				Help: "Total number of broadcast frames dropped due to a slow client",
			},
			[]string{"channel"},
		),
		ChannelConnectionsGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "channel_connections",
				Help: "Current number of open WebSocket connections per channel",
			},
			[]string{"channel"},
		),

		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_jobs_enqueued_total",
				Help: "Total number of background jobs enqueued",
			},
			[]string{"job_type"},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_jobs_completed_total",
				Help: "Total number of background jobs completed",
			},
			[]string{"job_type", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "queue_job_duration_seconds",
				Help:    "Background job execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"job_type"},
		),
		QueueDepthGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Current number of pending jobs per queue",
			},
			[]string{"queue"},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"event_type", "status"},
		),
		WebhookDeliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Webhook delivery round-trip duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"event_type"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Total number of rate limiter allow/deny decisions",
			},
			[]string{"scope", "decision"},
		),

		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.BroadcastFramesTotal,
			m.BroadcastDroppedTotal,
			m.ChannelConnectionsGauge,
			m.JobsEnqueuedTotal,
			m.JobsCompletedTotal,
			m.JobDuration,
			m.QueueDepthGauge,
			m.WebhookDeliveriesTotal,
			m.WebhookDeliveryLatency,
			m.RateLimitDecisionsTotal,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordBroadcastFrame records a channel fan-out send.
func (m *Metrics) RecordBroadcastFrame(channel, event string) {
	m.BroadcastFramesTotal.WithLabelValues(channel, event).Inc()
}

// RecordBroadcastDropped records a frame dropped due to a slow client.
func (m *Metrics) RecordBroadcastDropped(channel string) {
	m.BroadcastDroppedTotal.WithLabelValues(channel).Inc()
}

// SetChannelConnections sets the current connection count for a channel.
func (m *Metrics) SetChannelConnections(channel string, count int) {
	m.ChannelConnectionsGauge.WithLabelValues(channel).Set(float64(count))
}

// RecordJobEnqueued records a job enqueue.
func (m *Metrics) RecordJobEnqueued(jobType string) {
	m.JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobCompleted records a job's terminal status and execution duration.
func (m *Metrics) RecordJobCompleted(jobType, status string, duration time.Duration) {
	m.JobsCompletedTotal.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetQueueDepth sets the current pending-job count for a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int) {
	m.QueueDepthGauge.WithLabelValues(queue).Set(float64(depth))
}

// RecordWebhookDelivery records a webhook delivery attempt outcome and latency.
func (m *Metrics) RecordWebhookDelivery(eventType, status string, duration time.Duration) {
	m.WebhookDeliveriesTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDeliveryLatency.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordRateLimitDecision records an allow/deny decision.
func (m *Metrics) RecordRateLimitDecision(scope, decision string) {
	m.RateLimitDecisionsTotal.WithLabelValues(scope, decision).Inc()
}

// RecordDatabaseQuery records a database query.
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections.
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func getEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return getEnvironment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
