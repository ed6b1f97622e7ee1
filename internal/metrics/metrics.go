// Package metrics exposes Prometheus collectors for the checker and updater.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsmonitor_checks_total",
			Help: "Total number of checks performed, labeled by site and outcome class.",
		},
		[]string{"site", "class"},
	)

	checkDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wsmonitor_check_duration_seconds",
			Help:    "Histogram of check response times, labeled by outcome class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"class"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsmonitor_events_published_total",
			Help: "Total number of metric events handed to the bus, labeled by status.",
		},
		[]string{"status"},
	)

	eventsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsmonitor_events_persisted_total",
			Help: "Total number of metric events processed by the updater, labeled by status.",
		},
		[]string{"status"},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsmonitor_events_dropped_total",
			Help: "Total number of undecodable bus messages acknowledged and dropped.",
		},
		[]string{"reason"},
	)

	pollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsmonitor_poll_cycles_total",
			Help: "Total number of poll cycles, labeled by status.",
		},
		[]string{"status"},
	)

	pollCycleDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsmonitor_poll_cycle_duration_seconds",
			Help:    "Histogram of time spent listing and dispatching one poll cycle.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 60},
		},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsmonitor_queue_depth",
			Help: "Number of items waiting in an in-process work queue, labeled by queue.",
		},
		[]string{"queue"},
	)

	activeWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsmonitor_active_workers",
			Help: "Number of running workers, labeled by pool.",
		},
		[]string{"pool"},
	)

	dbPoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wsmonitor_db_pool_connections",
			Help: "Database connections held by the pool, labeled by state.",
		},
		[]string{"state"},
	)

	dbPoolCeiling = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsmonitor_db_pool_ceiling",
			Help: "Current database pool connection ceiling.",
		},
	)

	dbPoolGrowthTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsmonitor_db_pool_growth_total",
			Help: "Total number of times the database pool raised its ceiling.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wsmonitor_rate_limit_delay_seconds",
			Help:    "Histogram of time checks waited for their host's rate limit.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// CodeClass buckets a return code: 2xx..5xx, transport or local.
func CodeClass(code int32) string {
	switch {
	case code == -1:
		return "local"
	case code == 599:
		return "transport"
	case code >= 100 && code < 600:
		return strconv.Itoa(int(code)/100) + "xx"
	default:
		return "other"
	}
}

// ObserveCheck records one completed check.
func ObserveCheck(site string, code int32, responseTime time.Duration) {
	class := CodeClass(code)
	checksTotal.WithLabelValues(SanitizeSite(site), class).Inc()
	checkDurationSeconds.WithLabelValues(class).Observe(responseTime.Seconds())
}

// ObservePublish counts a publish attempt by status.
func ObservePublish(status string) {
	eventsPublishedTotal.WithLabelValues(status).Inc()
}

// ObservePersist counts an updater outcome by status.
func ObservePersist(status string) {
	eventsPersistedTotal.WithLabelValues(status).Inc()
}

// ObserveDropped counts a bus message acknowledged without being stored.
func ObserveDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObservePollCycle records one poll cycle.
func ObservePollCycle(status string, duration time.Duration) {
	pollCyclesTotal.WithLabelValues(status).Inc()
	pollCycleDurationSeconds.Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge for pool.
func IncActiveWorkers(pool string) {
	activeWorkers.WithLabelValues(pool).Inc()
}

// SetQueueDepth publishes the number of items buffered in queue.
func SetQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// DecActiveWorkers decrements the active workers gauge for pool.
func DecActiveWorkers(pool string) {
	activeWorkers.WithLabelValues(pool).Dec()
}

// SetPoolConnections publishes the database pool size.
func SetPoolConnections(total, idle int32) {
	dbPoolConnections.WithLabelValues("total").Set(float64(total))
	dbPoolConnections.WithLabelValues("idle").Set(float64(idle))
}

// ObservePoolGrowth records a ceiling increase.
func ObservePoolGrowth(ceiling int32) {
	dbPoolGrowthTotal.Inc()
	dbPoolCeiling.Set(float64(ceiling))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
