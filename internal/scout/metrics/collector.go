// Package metrics centralizes Prometheus metrics for the extraction
// service and serves the exposition endpoint.
package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/scout/workerpool"
	"github.com/adscout/engine/pkg/types"
)

// Collector is the recording facade used by the server and the
// background refresher.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector creates a collector on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// RecordRequest records one API request with timing.
func (mc *Collector) RecordRequest(endpoint, status string, duration time.Duration) {
	mc.prometheus.RecordRequest(endpoint, status, duration)

	mc.logger.Debug("Recorded request metric",
		zap.String("endpoint", endpoint),
		zap.String("status", status),
		zap.Duration("duration", duration))
}

// RecordBundle records one per-bundle outcome. outcome is "success" or
// the result error kind.
func (mc *Collector) RecordBundle(store types.StoreKind, outcome string) {
	mc.prometheus.RecordBundle(string(store), outcome)
}

// RecordAnalysisDuration records one document analysis.
func (mc *Collector) RecordAnalysisDuration(duration time.Duration) {
	mc.prometheus.RecordAnalysisDuration(duration)
}

// UpdateWorkerStats publishes a worker pool snapshot.
func (mc *Collector) UpdateWorkerStats(stats workerpool.Stats, level workerpool.MemoryLevel) {
	mc.prometheus.SetWorkerStats(stats.Workers, stats.Active, stats.QueueDepth, int(level), stats.RSSBytes)
}

// UpdateCacheStats publishes a cache counter snapshot.
func (mc *Collector) UpdateCacheStats(stats types.CacheStats) {
	mc.prometheus.SetCacheStats(stats.Hits, stats.Misses, stats.Writes, stats.Evictions)
}

// UpdateStoreRates publishes the adaptive per-store rates.
func (mc *Collector) UpdateStoreRates(rates map[types.StoreKind]float64) {
	for kind, rate := range rates {
		mc.prometheus.SetStoreRate(string(kind), rate)
	}
}

// ServeHTTP serves the Prometheus exposition endpoint.
func (mc *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
