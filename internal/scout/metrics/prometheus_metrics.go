package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides metrics collection using Prometheus.
type PrometheusMetrics struct {
	// API metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Pipeline metrics
	bundlesTotal     *prometheus.CounterVec
	analysisDuration prometheus.Histogram

	// Cache metrics (global counters, exported as gauges)
	cacheHits      prometheus.Gauge
	cacheMisses    prometheus.Gauge
	cacheWrites    prometheus.Gauge
	cacheEvictions prometheus.Gauge

	// Rate limiter metrics
	storeRate *prometheus.GaugeVec

	// Worker pool metrics
	workerCount      prometheus.Gauge
	workerActive     prometheus.Gauge
	workerQueueDepth prometheus.Gauge
	workerMemLevel   prometheus.Gauge
	workerRSSBytes   prometheus.Gauge

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a collector registered on the default
// registry.
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a collector on a custom
// registry, used by tests to avoid duplicate registration.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{logger: logger}

	pm.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests processed",
		},
		[]string{"endpoint", "status"},
	)

	pm.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	pm.bundlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "bundles_total",
			Help:      "Per-bundle pipeline outcomes by store and result",
		},
		[]string{"store", "outcome"},
	)

	pm.analysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing app-ads.txt documents",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	pm.cacheHits = newGauge(namespace, "cache", "hits_total", "Cache hits since process start")
	pm.cacheMisses = newGauge(namespace, "cache", "misses_total", "Cache misses since process start")
	pm.cacheWrites = newGauge(namespace, "cache", "writes_total", "Cache writes since process start")
	pm.cacheEvictions = newGauge(namespace, "cache", "evictions_total", "Memory cache evictions since process start")

	pm.storeRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "store_rate",
			Help:      "Current adaptive request rate per store (requests per second)",
		},
		[]string{"store"},
	)

	pm.workerCount = newGauge(namespace, "workers", "count", "Current number of pool workers")
	pm.workerActive = newGauge(namespace, "workers", "active", "Workers currently executing a task")
	pm.workerQueueDepth = newGauge(namespace, "workers", "queue_depth", "Tasks waiting in the pool queue")
	pm.workerMemLevel = newGauge(namespace, "workers", "memory_level", "Memory pressure level (0=ok 1=warning 2=high 3=critical)")
	pm.workerRSSBytes = newGauge(namespace, "workers", "rss_bytes", "Process resident set size from the last sample")

	registerer.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.bundlesTotal,
		pm.analysisDuration,
		pm.cacheHits,
		pm.cacheMisses,
		pm.cacheWrites,
		pm.cacheEvictions,
		pm.storeRate,
		pm.workerCount,
		pm.workerActive,
		pm.workerQueueDepth,
		pm.workerMemLevel,
		pm.workerRSSBytes,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized")
	return pm
}

func newGauge(namespace, subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// RecordRequest records one API request with timing.
func (pm *PrometheusMetrics) RecordRequest(endpoint, status string, duration time.Duration) {
	pm.requestsTotal.WithLabelValues(endpoint, status).Inc()
	pm.requestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordBundle records one per-bundle pipeline outcome.
func (pm *PrometheusMetrics) RecordBundle(store, outcome string) {
	pm.bundlesTotal.WithLabelValues(store, outcome).Inc()
}

// RecordAnalysisDuration records one document analysis.
func (pm *PrometheusMetrics) RecordAnalysisDuration(duration time.Duration) {
	pm.analysisDuration.Observe(duration.Seconds())
}

// SetCacheStats publishes the cache counter snapshot.
func (pm *PrometheusMetrics) SetCacheStats(hits, misses, writes, evictions int64) {
	pm.cacheHits.Set(float64(hits))
	pm.cacheMisses.Set(float64(misses))
	pm.cacheWrites.Set(float64(writes))
	pm.cacheEvictions.Set(float64(evictions))
}

// SetStoreRate publishes the current adaptive rate for one store.
func (pm *PrometheusMetrics) SetStoreRate(store string, rate float64) {
	pm.storeRate.WithLabelValues(store).Set(rate)
}

// SetWorkerStats publishes the worker pool snapshot.
func (pm *PrometheusMetrics) SetWorkerStats(workers, active, queueDepth int, memLevel int, rssBytes uint64) {
	pm.workerCount.Set(float64(workers))
	pm.workerActive.Set(float64(active))
	pm.workerQueueDepth.Set(float64(queueDepth))
	pm.workerMemLevel.Set(float64(memLevel))
	pm.workerRSSBytes.Set(float64(rssBytes))
}

// ServeHTTP serves the Prometheus exposition endpoint.
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
