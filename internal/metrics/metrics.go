// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	taskRequestsTotal          *prometheus.CounterVec
	upsertDecisionsTotal       *prometheus.CounterVec
	itemFailuresTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueOperationsTotal       *prometheus.CounterVec
	stopClearedTotal           prometheus.Counter
	stopTasksTotal             prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Repeated calls
// are no-ops; the Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_http_requests_total",
			Help: "API requests, labeled by method, route and status code.",
		}, []string{"method", "route", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heritage_http_request_duration_seconds",
			Help:    "API request latency, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})

		pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_pages_total",
			Help: "Pages fetched, labeled by site and outcome.",
		}, []string{"site", "status"})

		bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_bytes_total",
			Help: "Bytes fetched, labeled by site.",
		}, []string{"site"})

		taskRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_task_requests_total",
			Help: "Crawl start requests, labeled by task type and result.",
		}, []string{"task_type", "result"})

		upsertDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_upsert_decisions_total",
			Help: "Upsert policy outcomes per item.",
		}, []string{"decision"})

		itemFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_item_failures_total",
			Help: "Items that were not counted, labeled by failure kind.",
		}, []string{"kind"})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "heritage_active_workers",
			Help: "Workers currently processing a task.",
		})

		queueOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "heritage_queue_operations_total",
			Help: "Work queue operations, labeled by operation and result.",
		}, []string{"op", "result"})

		stopClearedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "heritage_stop_cleared_payloads_total",
			Help: "Queued payloads dropped by stop requests.",
		})

		stopTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "heritage_stop_tasks_total",
			Help: "Tasks moved to stopped by stop requests.",
		})

		rateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heritage_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host limiter.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"domain"})
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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

// Handler returns the promhttp scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetch records one page fetch.
func ObserveFetch(rawURL, status string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	pagesTotal.WithLabelValues(site, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveTaskRequest records the result of a crawl start request.
func ObserveTaskRequest(taskType, result string) {
	Init()
	taskRequestsTotal.WithLabelValues(taskType, result).Inc()
}

// ObserveDecision records an upsert policy outcome.
func ObserveDecision(decision string) {
	Init()
	upsertDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveItemFailure records an item that was abandoned.
func ObserveItemFailure(kind string) {
	Init()
	itemFailuresTotal.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveQueue records a queue push, pop or clear.
func ObserveQueue(op string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	queueOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveStop records the outcome of a stop request.
func ObserveStop(cleared, stopped int64) {
	Init()
	stopClearedTotal.Add(float64(cleared))
	stopTasksTotal.Add(float64(stopped))
}

// ObserveRateLimitDelay records time spent waiting on the limiter.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
