// Package metrics defines the Prometheus collectors shared by the services
// and serves them for scraping (see StartServer).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "searchapi"

var (
	fastBuckets  = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	stageBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
	drainBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	IgnoredWordsTotal  prometheus.Counter
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	ItemsIndexedTotal *prometheus.CounterVec
	ItemsSkippedTotal *prometheus.CounterVec
	ProcessorDuration *prometheus.HistogramVec

	TasksEnqueuedTotal *prometheus.CounterVec
	TasksExecutedTotal *prometheus.CounterVec
	TasksFailedTotal   *prometheus.CounterVec
	TasksPending       *prometheus.GaugeVec
	DrainDuration      prometheus.Histogram
	FailingServers     prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. It panics if they are
// already registered there, so tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		HTTPRequestsTotal:   counter("http", "requests_total", "HTTP requests by method, route and status.", "method", "path", "status"),
		HTTPRequestDuration: histogram("http", "request_duration_seconds", "HTTP request latency.", prometheus.DefBuckets, "method", "path"),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),

		SearchQueriesTotal: counter("search", "queries_total", "Search queries by index and outcome (ok, zero_result, error).", "index", "outcome"),
		SearchLatency:      histogram("search", "latency_seconds", "Search latency by cache status.", fastBuckets, "cache_status"),
		SearchResultsCount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "search", Name: "results_count",
			Help:    "Total matches reported per search.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		IgnoredWordsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "search", Name: "ignored_words_total",
			Help: "Keywords dropped by processors before reaching a backend.",
		}),
		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Query cache hits.",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Query cache misses.",
		}),

		ItemsIndexedTotal: counter("index", "items_indexed_total", "Items accepted by a backend, by index.", "index"),
		ItemsSkippedTotal: counter("index", "items_skipped_total", "Items removed from the working set by a processor, by index.", "index"),
		ProcessorDuration: histogram("index", "stage_duration_seconds", "Time spent in a pipeline stage.", stageBuckets, "stage"),

		TasksEnqueuedTotal: counter("tasks", "enqueued_total", "Tasks appended to the task log, by server and type.", "server", "type"),
		TasksExecutedTotal: counter("tasks", "executed_total", "Tasks executed successfully, by server and type.", "server", "type"),
		TasksFailedTotal:   counter("tasks", "failed_total", "Task executions that raised a backend error, by server and type.", "server", "type"),
		TasksPending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "pending",
			Help: "Tasks left in the log after the last drain, by server.",
		}, []string{"server"}),
		DrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "drain_duration_seconds",
			Help:    "Wall time of a drain pass.",
			Buckets: drainBuckets,
		}),
		FailingServers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "failing_servers",
			Help: "Servers that ended the last drain in the failing set.",
		}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
	}
}
