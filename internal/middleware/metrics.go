package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names, kept as constants so tests and dashboards reference one
// spelling.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "rate_limit_redis_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
	MetricExperimentRequests    = "scoring_experiment_requests_total"
	MetricExperimentDuration    = "scoring_experiment_request_duration_seconds"
	MetricExperimentActive      = "scoring_experiment_active"
)

// httpLabels dimension every HTTP series: method, normalized path, status.
var httpLabels = []string{"method", "path", "status"}

// Metrics holds the Prometheus collectors for the middleware layer: HTTP
// traffic, rate limiting, and scoring calibration experiments. Collectors
// are created unregistered; call Register.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
	experimentRequests   *prometheus.CounterVec
	experimentDuration   *prometheus.HistogramVec
	experimentActive     prometheus.Gauge
}

// NewMetrics initializes every collector.
func NewMetrics() *Metrics {
	// Request and response bodies span empty probes to bulk include
	// payloads, hence the wide exponential buckets (100 B to ~100 MB).
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 8)
	durationBuckets := []float64{0.01, 0.1, 0.5, 1.0, 2.0}

	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitRequests,
				Help: "Total number of rate limit checks by endpoint",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitBlocked,
				Help: "Total number of rate limit violations (blocked requests) by endpoint",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitRedisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRateLimitRedisErrors,
				Help: "Total number of Redis errors during rate limiting (fail-open events)",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: durationBuckets,
			},
			httpLabels,
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			httpLabels,
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestSizeBytes,
				Help:    "HTTP request size in bytes",
				Buckets: sizeBuckets,
			},
			httpLabels,
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPResponseSizeBytes,
				Help:    "HTTP response size in bytes",
				Buckets: sizeBuckets,
			},
			httpLabels,
		),
		experimentRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricExperimentRequests,
				Help: "Total requests by scoring cohort, calibration label, and outcome",
			},
			[]string{"cohort", "label", "outcome"},
		),
		experimentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricExperimentDuration,
				Help:    "Request duration in seconds by scoring cohort",
				Buckets: durationBuckets,
			},
			[]string{"cohort", "label"},
		),
		experimentActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricExperimentActive,
				Help: "Whether a scoring calibration experiment is serving candidate traffic (1) or not (0)",
			},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts one quota check for an endpoint and key type
// ("user" or "ip").
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitBlocked counts one request rejected over quota.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors counts one fail-open event against the Redis
// rate limit store.
func (m *Metrics) IncRateLimitRedisErrors() {
	m.rateLimitRedisErrors.Inc()
}

// ObserveHTTPRequest records one completed request across all four HTTP
// series. Sizes are in bytes, duration in seconds.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": status,
	}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}

// ObserveExperimentRequest records one request outcome for a scoring
// cohort during a calibration experiment.
func (m *Metrics) ObserveExperimentRequest(cohort, label string, duration float64, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.experimentRequests.WithLabelValues(cohort, label, outcome).Inc()
	m.experimentDuration.WithLabelValues(cohort, label).Observe(duration)
}

// SetExperimentActive reflects whether candidate traffic is being served.
func (m *Metrics) SetExperimentActive(active bool) {
	if active {
		m.experimentActive.Set(1)
	} else {
		m.experimentActive.Set(0)
	}
}

// Collectors returns every collector this Metrics manages.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
		m.experimentRequests,
		m.experimentDuration,
		m.experimentActive,
	}
}
