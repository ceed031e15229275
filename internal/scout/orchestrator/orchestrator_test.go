package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/internal/scout/appads"
	"github.com/adscout/engine/internal/scout/cache"
	"github.com/adscout/engine/internal/scout/fetch"
	"github.com/adscout/engine/internal/scout/workerpool"
	"github.com/adscout/engine/pkg/types"
)

const playListing = `<html><head>` +
	`<meta name="appstore:developer_url" content="https://www.example.com/">` +
	`</head><body></body></html>`

const sampleAppAds = "# authorized sellers\n" +
	"appnexus.com, 12447, DIRECT, f5ab79cb980f11d1\n" +
	"rubicon.com, 998877, RESELLER\n" +
	"\n" +
	"not a valid line\n"

type fakeResponse struct {
	body   string
	status int
	err    error
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]fakeResponse),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) set(url string, resp fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = resp
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, _ types.StoreKind) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	resp, ok := f.responses[rawURL]
	f.mu.Unlock()

	if !ok {
		return nil, &fetch.Error{Kind: fetch.KindNetwork, URL: rawURL, Err: fmt.Errorf("no route")}
	}
	if resp.err != nil {
		return nil, resp.err
	}
	if resp.status != 0 && resp.status != 200 {
		return nil, &fetch.Error{Kind: fetch.KindHTTP, StatusCode: resp.status, URL: rawURL}
	}
	return &fetch.Result{Body: resp.body, StatusCode: 200, FinalURL: rawURL}, nil
}

func newTestOrchestrator(t *testing.T, fetcher ContentFetcher) *Orchestrator {
	return newTestOrchestratorWithMetrics(t, fetcher, nil)
}

func newTestOrchestratorWithMetrics(t *testing.T, fetcher ContentFetcher, metrics MetricsRecorder) *Orchestrator {
	t.Helper()

	cfg := config.Default()
	cfg.Workers.Min = 1
	cfg.Workers.Max = 2

	pool := workerpool.New(cfg.Workers, zap.NewNop())
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	contentCache := cache.New(64, nil, zap.NewNop())
	analyzer := appads.NewAnalyzer(appads.Config{}, zap.NewNop())

	return New(cfg, contentCache, fetcher, analyzer, pool, metrics, zap.NewNop())
}

func playURL(id string) string {
	return "https://play.google.com/store/apps/details?id=" + id
}

func seedHappyPath(f *fakeFetcher, bundleID string) {
	f.set(playURL(bundleID), fakeResponse{body: playListing})
	f.set("https://example.com/app-ads.txt", fakeResponse{body: sampleAppAds})
}

func TestProcessBundle_HappyPath(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "com.example.app", result.BundleID)
	assert.Equal(t, types.StoreGooglePlay, result.StoreType)
	assert.Equal(t, "example.com", result.Domain)

	require.NotNil(t, result.AppAdsTxt)
	assert.True(t, result.AppAdsTxt.Exists)
	assert.Equal(t, "https://example.com/app-ads.txt", result.AppAdsTxt.URL)
	assert.Equal(t, sampleAppAds, result.AppAdsTxt.Content)

	require.NotNil(t, result.AppAdsTxt.Analyzed)
	analyzed := result.AppAdsTxt.Analyzed
	assert.Equal(t, 6, analyzed.TotalLines)
	assert.Equal(t, 2, analyzed.ValidLines)
	assert.Equal(t, 1, analyzed.CommentLines)
	assert.Equal(t, 2, analyzed.EmptyLines, "blank line plus the trailing newline")
	assert.Equal(t, 1, analyzed.InvalidLines)
	assert.Nil(t, result.AppAdsTxt.SearchResults, "no terms requested")
}

func TestProcessBundle_UnsupportedBundle(t *testing.T) {
	o := newTestOrchestrator(t, newFakeFetcher())

	result := o.ProcessBundle(context.Background(), "12345", nil)

	assert.False(t, result.Success)
	assert.Equal(t, types.StoreRokuNumeric, result.StoreType)
	assert.Equal(t, "Unsupported bundle identifier", result.Error)
	assert.Equal(t, types.ErrKindUnsupportedBundle, result.ErrorKind)
}

func TestProcessBundle_AppAdsMissingIsSuccess(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{body: playListing})
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{status: 404})
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)

	require.True(t, result.Success)
	assert.Equal(t, "example.com", result.Domain)
	require.NotNil(t, result.AppAdsTxt)
	assert.False(t, result.AppAdsTxt.Exists)
	assert.Empty(t, result.AppAdsTxt.URL)
	assert.Nil(t, result.AppAdsTxt.Analyzed)
}

func TestProcessBundle_DomainNotFound(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{body: "<html><body>nothing here</body></html>"})
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)

	assert.False(t, result.Success)
	assert.Equal(t, types.ErrKindDomainNotFound, result.ErrorKind)
}

func TestProcessBundle_ListingFetchError(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{status: 503})
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)

	assert.False(t, result.Success)
	assert.Equal(t, types.ErrKindFetchError, result.ErrorKind)
	assert.Contains(t, result.Error, "503")
}

func TestProcessBundle_OversizedAppAds(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{body: playListing})
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{
		err: &fetch.Error{Kind: fetch.KindOversized, URL: "https://example.com/app-ads.txt"},
	})
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)

	assert.False(t, result.Success)
	assert.Equal(t, types.ErrKindFetchError, result.ErrorKind)
	assert.Contains(t, result.Error, "Oversized")
}

func TestProcessBundle_SearchTerms(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	o := newTestOrchestrator(t, fetcher)

	terms := []types.SearchTerm{
		{Structured: &types.StructuredTerm{Domain: "appnexus.com", PublisherID: "12447", Relationship: "DIRECT"}},
	}
	result := o.ProcessBundle(context.Background(), "com.example.app", terms)

	require.True(t, result.Success, "error: %s", result.Error)
	require.NotNil(t, result.AppAdsTxt.SearchResults)
	search := result.AppAdsTxt.SearchResults
	require.GreaterOrEqual(t, search.Count, 1)
	assert.Equal(t, 2, search.Matches[0].LineNumber)
	assert.Contains(t, search.Matches[0].Line, "appnexus.com")
}

func TestProcessBundle_ContentTruncation(t *testing.T) {
	big := strings.Repeat("appnexus.com, 12447, DIRECT\n", maxInlineContent/20)
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{body: playListing})
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{body: big})
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)

	require.True(t, result.Success, "error: %s", result.Error)
	assert.True(t, result.AppAdsTxt.ContentTruncated)
	assert.Len(t, result.AppAdsTxt.Content, maxInlineContent)
	// Analysis still covers the whole document
	assert.Equal(t, strings.Count(big, "\n")+1, result.AppAdsTxt.Analyzed.TotalLines)
}

type fakeMetrics struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (m *fakeMetrics) RecordAnalysisDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, d)
}

func (m *fakeMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.durations)
}

func TestProcessBundle_RecordsAnalysisDuration(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	fetcher.set(playURL("com.no.ads"), fakeResponse{body: playListing})
	metrics := &fakeMetrics{}
	o := newTestOrchestratorWithMetrics(t, fetcher, metrics)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 1, metrics.count(), "each completed analysis records one observation")

	// A missing document never reaches the analyzer
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{status: 404})
	o2 := newTestOrchestratorWithMetrics(t, fetcher, metrics)
	result = o2.ProcessBundle(context.Background(), "com.no.ads", nil)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.False(t, result.AppAdsTxt.Exists)
	assert.Equal(t, 1, metrics.count(), "skipped analyses record nothing")
}

func TestAnalysisTimeout_ScalesWithSize(t *testing.T) {
	o := newTestOrchestrator(t, newFakeFetcher())
	base := time.Duration(o.cfg.Workers.TaskTimeout)
	max := time.Duration(o.cfg.Workers.MaxTaskTimeout)

	assert.Equal(t, base, o.analysisTimeout(512), "small documents keep the default")
	assert.Equal(t, 3*base, o.analysisTimeout(2*analysisSizeStep+1))
	assert.Equal(t, max, o.analysisTimeout(64*analysisSizeStep), "scaling is capped at the maximum")
}

func TestProcessBatch_PreservesInputOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	o := newTestOrchestrator(t, fetcher)

	req := &types.ExtractRequest{BundleIDs: []string{"com.example.app", "12345", "com.other.app"}}
	resp := o.ProcessBatch(context.Background(), req)

	require.Len(t, resp.Results, 3)
	for i, id := range req.BundleIDs {
		assert.Equal(t, id, resp.Results[i].BundleID)
	}
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.TotalProcessed)
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, 2, resp.ErrorCount)
	assert.Regexp(t, `^\d+ms$`, resp.ProcessingTime)
}

func TestProcessBatch_CountsAlwaysSum(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	fetcher.set(playURL("com.broken.app"), fakeResponse{status: 500})
	o := newTestOrchestrator(t, fetcher)

	req := &types.ExtractRequest{BundleIDs: []string{"com.example.app", "com.broken.app", "12345", "com.example.app"}}
	resp := o.ProcessBatch(context.Background(), req)

	assert.Equal(t, len(req.BundleIDs), resp.TotalProcessed)
	assert.Equal(t, resp.TotalProcessed, resp.SuccessCount+resp.ErrorCount)
}

func TestProcessBatch_SecondBatchHitsCache(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	o := newTestOrchestrator(t, fetcher)

	req := &types.ExtractRequest{BundleIDs: []string{"com.example.app"}}
	first := o.ProcessBatch(context.Background(), req)
	second := o.ProcessBatch(context.Background(), req)

	require.True(t, first.Results[0].Success)
	assert.Equal(t, first.Results[0], second.Results[0], "cached batch must be deterministic")
	assert.Greater(t, second.CacheStats.Hits, first.CacheStats.Hits)
	assert.Equal(t, 1, fetcher.callCount(playURL("com.example.app")))
	assert.Equal(t, 1, fetcher.callCount("https://example.com/app-ads.txt"))
}

func TestProcessBundle_NegativeResultIsCached(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{body: playListing})
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{status: 404})
	o := newTestOrchestrator(t, fetcher)

	for i := 0; i < 3; i++ {
		result := o.ProcessBundle(context.Background(), "com.example.app", nil)
		require.True(t, result.Success)
		assert.False(t, result.AppAdsTxt.Exists)
	}
	assert.Equal(t, 1, fetcher.callCount("https://example.com/app-ads.txt"),
		"404 outcome must be served from the negative cache")
}

func TestProcessBundle_FetchErrorIsNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(playURL("com.example.app"), fakeResponse{body: playListing})
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{status: 500})
	o := newTestOrchestrator(t, fetcher)

	result := o.ProcessBundle(context.Background(), "com.example.app", nil)
	require.False(t, result.Success)

	// Upstream recovers; the next request must refetch
	fetcher.set("https://example.com/app-ads.txt", fakeResponse{body: sampleAppAds})
	result = o.ProcessBundle(context.Background(), "com.example.app", nil)
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 2, fetcher.callCount("https://example.com/app-ads.txt"))
}

func TestProcessStream_OneResultPerBundle(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	o := newTestOrchestrator(t, fetcher)

	req := &types.ExtractRequest{BundleIDs: []string{"com.example.app", "12345", "com.missing.app"}}
	seen := make(map[string]int)
	for result := range o.ProcessStream(context.Background(), req) {
		seen[result.BundleID]++
	}

	require.Len(t, seen, 3)
	for _, id := range req.BundleIDs {
		assert.Equal(t, 1, seen[id], "bundle %s must appear exactly once", id)
	}
}

func TestProcessStream_CancelClosesChannel(t *testing.T) {
	fetcher := newFakeFetcher()
	seedHappyPath(fetcher, "com.example.app")
	o := newTestOrchestrator(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := &types.ExtractRequest{BundleIDs: []string{"com.example.app", "com.other.app"}}
	done := make(chan struct{})
	go func() {
		for range o.ProcessStream(ctx, req) {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel not closed after cancellation")
	}
}
