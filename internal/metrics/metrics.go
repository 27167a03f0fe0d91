// Package metrics exposes Prometheus collectors for the enrichment service.
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
	queueTasksTotal            *prometheus.CounterVec
	queueTaskDurationSeconds   *prometheus.HistogramVec
	queuePending               *prometheus.GaugeVec
	queueRunning               *prometheus.GaugeVec
	flushTotal                 *prometheus.CounterVec
	flushPatchedItemsTotal     *prometheus.CounterVec
	mergeTotal                 *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	aiCallsTotal               *prometheus.CounterVec
	aiCallDurationSeconds      *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queueTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_queue_tasks_total",
				Help: "Total number of queued tasks finished, labeled by family and outcome.",
			},
			[]string{"family", "outcome"},
		)

		queueTaskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_queue_task_duration_seconds",
				Help:    "Histogram of task run times, labeled by family.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"family"},
		)

		queuePending = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enricher_queue_pending",
				Help: "Number of tasks waiting for a slot, labeled by family.",
			},
			[]string{"family"},
		)

		queueRunning = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enricher_queue_running",
				Help: "Number of tasks currently running, labeled by family.",
			},
			[]string{"family"},
		)

		flushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_flush_total",
				Help: "Total number of batch flushes, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		flushPatchedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_flush_patched_items_total",
				Help: "Total number of items patched by batch flushes, labeled by type.",
			},
			[]string{"type"},
		)

		mergeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_merge_total",
				Help: "Total number of single-item merges, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_fetch_total",
				Help: "Total number of content fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_fetch_bytes_total",
				Help: "Total number of extracted text bytes, labeled by site.",
			},
			[]string{"site"},
		)

		aiCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_ai_calls_total",
				Help: "Total number of model calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		aiCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_ai_call_duration_seconds",
				Help:    "Histogram of model call latencies, labeled by operation.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"limiter"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records a finished queue task.
func ObserveTask(family, outcome string, duration time.Duration) {
	Init()
	queueTasksTotal.WithLabelValues(family, outcome).Inc()
	queueTaskDurationSeconds.WithLabelValues(family).Observe(duration.Seconds())
}

// SetQueueDepth publishes the pending and running counts of a queue.
func SetQueueDepth(family string, pending, running int) {
	Init()
	queuePending.WithLabelValues(family).Set(float64(pending))
	queueRunning.WithLabelValues(family).Set(float64(running))
}

// ObserveFlush records a batch flush outcome and the number of items it patched.
func ObserveFlush(taskType, outcome string, patched int) {
	Init()
	flushTotal.WithLabelValues(taskType, outcome).Inc()
	if patched > 0 {
		flushPatchedItemsTotal.WithLabelValues(taskType).Add(float64(patched))
	}
}

// ObserveMerge records a single-item merge outcome.
func ObserveMerge(kind, outcome string) {
	Init()
	mergeTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetch records a content fetch.
func ObserveFetch(site, outcome string, bytesExtracted int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesExtracted > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesExtracted))
	}
}

// ObserveAICall records a model call.
func ObserveAICall(operation, outcome string, duration time.Duration) {
	Init()
	aiCallsTotal.WithLabelValues(operation, outcome).Inc()
	aiCallDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(limiter string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(limiter).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
