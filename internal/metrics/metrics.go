// Package metrics holds the Prometheus collectors for ragweb. All methods
// are safe on a nil *Metrics so services can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragweb"

type Metrics struct {
	registry *prometheus.Registry

	ingestions       *prometheus.CounterVec
	ingestDuration   prometheus.Histogram
	vectorsAppended  prometheus.Counter
	queries          *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	jobsDeadLettered prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingestions that reached a terminal status.",
		},
		[]string{"status", "kind"},
	)
	m.ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "Time spent running one ingestion pipeline.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	m.vectorsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vectors_appended_total",
		Help:      "Vectors appended to the index.",
	})
	m.queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries answered, by outcome.",
		},
		[]string{"outcome"},
	)
	m.queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "End to end query latency.",
		Buckets:   prometheus.DefBuckets,
	})
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		},
		[]string{"method", "path", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.jobsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dead_lettered_total",
		Help:      "Jobs rejected without requeue.",
	})

	m.registry.MustRegister(
		m.ingestions,
		m.ingestDuration,
		m.vectorsAppended,
		m.queries,
		m.queryDuration,
		m.httpRequests,
		m.httpDuration,
		m.jobsDeadLettered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IngestionFinished records a terminal ingestion. kind is empty on success.
func (m *Metrics) IngestionFinished(status, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(status, kind).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) VectorsAppended(n int) {
	if m == nil {
		return
	}
	m.vectorsAppended.Add(float64(n))
}

// QueryServed records a query outcome: "answered", "empty", "invalid" or
// "error".
func (m *Metrics) QueryServed(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) JobDeadLettered() {
	if m == nil {
		return
	}
	m.jobsDeadLettered.Inc()
}

// Middleware counts requests by route template rather than raw path so ids
// do not explode label cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
