// Package orchestrator drives the per-bundle extraction pipeline:
// classify the bundle, fetch and scrape the store listing, resolve the
// developer domain, fetch app-ads.txt through the cache, and hand the
// document to the analyzer worker pool. Batch mode preserves input
// order; stream mode emits results as they complete.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/internal/scout/appads"
	"github.com/adscout/engine/internal/scout/cache"
	"github.com/adscout/engine/internal/scout/extract"
	"github.com/adscout/engine/internal/scout/fetch"
	"github.com/adscout/engine/internal/scout/store"
	"github.com/adscout/engine/internal/scout/workerpool"
	"github.com/adscout/engine/pkg/types"
)

// maxInlineContent caps the raw document text echoed back in a result.
// Larger documents are truncated and flagged; the analysis itself always
// covers the full document.
const maxInlineContent = 64 << 10

// ContentFetcher retrieves a URL body, paced per store kind.
// Satisfied by *fetch.Fetcher.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string, kind types.StoreKind) (*fetch.Result, error)
}

// analysisSizeStep grows the analysis deadline by one base timeout per
// started MiB of document, so very large documents get up to the
// configured maximum instead of the default.
const analysisSizeStep = 1 << 20

// TaskPool schedules analysis tasks. Satisfied by *workerpool.Pool.
type TaskPool interface {
	SubmitTimeout(task workerpool.Task, priority workerpool.Priority, timeout time.Duration) (*workerpool.Future, error)
}

// MetricsRecorder receives pipeline timing observations. Satisfied by
// *metrics.Collector; may be nil.
type MetricsRecorder interface {
	RecordAnalysisDuration(duration time.Duration)
}

// appAdsRecord is the cached app-ads.txt lookup outcome. A missing
// document (HTTP 404) is cached too, with the shorter negative TTL.
type appAdsRecord struct {
	Exists  bool   `json:"exists"`
	Content string `json:"content,omitempty"`
}

// Orchestrator is the shared pipeline driver. Safe for concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	cache    *cache.Cache
	fetcher  ContentFetcher
	analyzer *appads.Analyzer
	pool     TaskPool
	metrics  MetricsRecorder
	logger   *zap.Logger
}

// New wires the pipeline components together. metrics may be nil.
func New(cfg *config.Config, c *cache.Cache, fetcher ContentFetcher, analyzer *appads.Analyzer, pool TaskPool, metrics MetricsRecorder, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		cache:    c,
		fetcher:  fetcher,
		analyzer: analyzer,
		pool:     pool,
		metrics:  metrics,
		logger:   logger,
	}
}

// ProcessBatch runs every bundle through the pipeline with bounded
// concurrency and returns results in input order. Exactly one result is
// produced per input bundle; per-bundle failures never fail the batch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, req *types.ExtractRequest) *types.BatchResponse {
	start := time.Now()
	results := make([]types.BundleResult, len(req.BundleIDs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.cfg.EffectiveConcurrency())
	for i, bundleID := range req.BundleIDs {
		i, bundleID := i, bundleID
		group.Go(func() error {
			results[i] = o.ProcessBundle(groupCtx, bundleID, req.SearchTerms)
			return nil
		})
	}
	group.Wait()

	return o.buildResponse(results, start)
}

// ProcessStream runs the batch with the same bounded concurrency but
// delivers each result as it completes. The channel is closed once every
// bundle has produced exactly one result.
func (o *Orchestrator) ProcessStream(ctx context.Context, req *types.ExtractRequest) <-chan types.BundleResult {
	out := make(chan types.BundleResult)

	go func() {
		defer close(out)

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(o.cfg.EffectiveConcurrency())
		for _, bundleID := range req.BundleIDs {
			bundleID := bundleID
			group.Go(func() error {
				result := o.ProcessBundle(groupCtx, bundleID, req.SearchTerms)
				select {
				case out <- result:
				case <-ctx.Done():
				}
				return nil
			})
		}
		group.Wait()
	}()

	return out
}

func (o *Orchestrator) buildResponse(results []types.BundleResult, start time.Time) *types.BatchResponse {
	resp := &types.BatchResponse{
		Success:        true,
		Results:        results,
		TotalProcessed: len(results),
		ProcessingTime: fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		CacheStats:     o.cache.Stats(),
	}
	for i := range results {
		if results[i].Success {
			resp.SuccessCount++
		} else {
			resp.ErrorCount++
		}
	}
	return resp
}

// ProcessBundle runs one bundle through the full pipeline. It always
// returns a result; errors are folded into the result rather than
// propagated.
func (o *Orchestrator) ProcessBundle(ctx context.Context, bundleID string, terms []types.SearchTerm) types.BundleResult {
	classification := store.Classify(bundleID)
	logger := o.logger.With(
		zap.String("bundle_id", classification.BundleID),
		zap.String("store", string(classification.Kind)))

	if !classification.Kind.SupportsExtraction() {
		return types.FailedResult(classification.BundleID, classification.Kind,
			types.ErrKindUnsupportedBundle, "Unsupported bundle identifier")
	}

	if err := ctx.Err(); err != nil {
		return types.FailedResult(classification.BundleID, classification.Kind,
			types.ErrKindInternal, "Request cancelled")
	}

	domain, err := o.resolveDomain(ctx, classification)
	if err != nil {
		kind, message := describeError(err)
		logger.Debug("Domain resolution failed",
			zap.String("error_kind", kind),
			zap.String("fetch_kind", string(fetch.KindOf(err))),
			zap.Int("upstream_status", fetch.StatusCodeOf(err)),
			zap.Error(err))
		return types.FailedResult(classification.BundleID, classification.Kind, kind, message)
	}

	record, err := o.lookupAppAds(ctx, domain)
	if err != nil {
		kind, message := describeError(err)
		logger.Debug("App-ads.txt lookup failed",
			zap.String("domain", domain),
			zap.String("error_kind", kind),
			zap.String("fetch_kind", string(fetch.KindOf(err))),
			zap.Int("upstream_status", fetch.StatusCodeOf(err)),
			zap.Error(err))
		return types.FailedResult(classification.BundleID, classification.Kind, kind, message)
	}

	result := types.BundleResult{
		BundleID:  classification.BundleID,
		StoreType: classification.Kind,
		Success:   true,
		Domain:    domain,
	}

	if !record.Exists {
		result.AppAdsTxt = &types.AppAdsInfo{Exists: false}
		return result
	}

	analysis, err := o.analyze(ctx, record.Content, terms)
	if err != nil {
		kind, message := describeError(err)
		logger.Warn("Analysis failed",
			zap.String("domain", domain),
			zap.String("error_kind", kind),
			zap.Error(err))
		return types.FailedResult(classification.BundleID, classification.Kind, kind, message)
	}

	info := &types.AppAdsInfo{
		Exists:        true,
		URL:           appAdsURL(domain),
		Content:       record.Content,
		Analyzed:      &analysis.Analyzed,
		SearchResults: analysis.Search,
	}
	if len(info.Content) > maxInlineContent {
		info.Content = info.Content[:maxInlineContent]
		info.ContentTruncated = true
	}
	result.AppAdsTxt = info
	return result
}

// resolveDomain fetches the store listing through the cache and scrapes
// the developer domain out of it.
func (o *Orchestrator) resolveDomain(ctx context.Context, c store.Classification) (string, error) {
	body, err := o.cache.GetOrFetch(ctx, c.StoreURL, time.Duration(o.cfg.Cache.ListingTTL),
		func(ctx context.Context) ([]byte, error) {
			result, err := o.fetcher.Fetch(ctx, c.StoreURL, c.Kind)
			if err != nil {
				return nil, err
			}
			return []byte(result.Body), nil
		})
	if err != nil {
		return "", err
	}
	return extract.DeveloperDomain(string(body), c.Kind)
}

// lookupAppAds fetches https://<domain>/app-ads.txt through the cache.
// A 404 becomes a cached negative record; other fetch failures are not
// cached so the next request retries.
func (o *Orchestrator) lookupAppAds(ctx context.Context, domain string) (*appAdsRecord, error) {
	url := appAdsURL(domain)
	data, err := o.cache.GetOrFetchTTL(ctx, url, func(ctx context.Context) ([]byte, time.Duration, error) {
		result, err := o.fetcher.Fetch(ctx, url, types.StoreUnknown)
		if err != nil {
			if fetch.IsNotFound(err) {
				encoded, mErr := json.Marshal(&appAdsRecord{Exists: false})
				if mErr != nil {
					return nil, 0, mErr
				}
				return encoded, time.Duration(o.cfg.Cache.NegativeTTL), nil
			}
			return nil, 0, err
		}

		encoded, mErr := json.Marshal(&appAdsRecord{Exists: true, Content: result.Body})
		if mErr != nil {
			return nil, 0, mErr
		}
		return encoded, time.Duration(o.cfg.Cache.AppAdsTTL), nil
	})
	if err != nil {
		return nil, err
	}

	var record appAdsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt cached app-ads record for %s: %w", domain, err)
	}
	return &record, nil
}

// analyze runs the document through the worker pool and waits for the
// outcome. The pool enforces the per-task deadline, scaled here with
// document size.
func (o *Orchestrator) analyze(ctx context.Context, content string, terms []types.SearchTerm) (*appads.Result, error) {
	future, err := o.pool.SubmitTimeout(func(taskCtx context.Context) (interface{}, error) {
		return o.analyzer.Analyze(taskCtx, content, terms, nil)
	}, workerpool.PriorityNormal, o.analysisTimeout(len(content)))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	value, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordAnalysisDuration(time.Since(start))
	}
	return value.(*appads.Result), nil
}

// analysisTimeout returns the per-task deadline for a document of the
// given byte size: one base timeout plus one per started MiB, capped at
// the configured maximum.
func (o *Orchestrator) analysisTimeout(size int) time.Duration {
	base := time.Duration(o.cfg.Workers.TaskTimeout)
	timeout := base * time.Duration(1+size/analysisSizeStep)
	if max := time.Duration(o.cfg.Workers.MaxTaskTimeout); timeout > max {
		return max
	}
	return timeout
}

// CacheStats returns the cumulative counters of the pipeline's cache.
func (o *Orchestrator) CacheStats() types.CacheStats {
	return o.cache.Stats()
}

func appAdsURL(domain string) string {
	return "https://" + domain + "/app-ads.txt"
}
