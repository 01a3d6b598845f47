// Package metrics exposes Prometheus collectors for the feed finder.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Input line outcomes.
const (
	InputDispatched = "dispatched"
	InputDuplicate  = "duplicate"
	InputInvalid    = "invalid"
)

// Task outcomes.
const (
	TaskNoPage       = "no_page"
	TaskNoFeed       = "no_feed"
	TaskCommentsFeed = "comments_feed"
	TaskWritten      = "written"
	TaskWriteFailed  = "write_failed"
	TaskAbandoned    = "abandoned"
	TaskPanicked     = "panicked"
)

// Fetch stages.
const (
	StagePage = "page"
	StageFeed = "feed"
)

var (
	inputLinesTotal            *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	rowsWrittenTotal           *prometheus.CounterVec
	mirrorFailuresTotal        prometheus.Counter
	fetchDurationSeconds       *prometheus.HistogramVec
	activeTasks                prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		inputLinesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedfinder_input_lines_total",
				Help: "Input lines read, labeled by dispatch outcome.",
			},
			[]string{"outcome"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedfinder_tasks_total",
				Help: "Finished crawl tasks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rowsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedfinder_rows_written_total",
				Help: "Rows appended to the output, labeled by exception class (empty on success).",
			},
			[]string{"exception_class"},
		)

		mirrorFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "feedfinder_mirror_failures_total",
				Help: "Rows written to the output but not to a mirror destination.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedfinder_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by pipeline stage.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedfinder_active_tasks",
				Help: "Number of crawl tasks currently in flight.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveInput counts one input line.
func ObserveInput(outcome string) {
	Init()
	inputLinesTotal.WithLabelValues(outcome).Inc()
}

// ObserveTask counts one finished task.
func ObserveTask(outcome string) {
	Init()
	tasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveRow counts one appended row.
func ObserveRow(exceptionClass string) {
	Init()
	rowsWrittenTotal.WithLabelValues(exceptionClass).Inc()
}

// ObserveMirrorFailure counts one row a mirror destination did not store.
func ObserveMirrorFailure() {
	Init()
	mirrorFailuresTotal.Inc()
}

// ObserveFetch records the latency of one fetch.
func ObserveFetch(stage string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncActiveTasks increments the in-flight task gauge.
func IncActiveTasks() {
	Init()
	activeTasks.Inc()
}

// DecActiveTasks decrements the in-flight task gauge.
func DecActiveTasks() {
	Init()
	activeTasks.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
