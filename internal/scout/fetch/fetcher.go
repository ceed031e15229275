// Package fetch performs outbound HTTP retrieval of store listings and
// app-ads.txt files with retries, per-store pacing, user agent rotation
// and a hard response size cap.
package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/pkg/types"
)

// RateLimiter paces requests per store kind and receives outcome reports
// that drive rate adaptation.
type RateLimiter interface {
	Acquire(ctx context.Context, kind types.StoreKind) (float64, error)
	ReportSuccess(ctx context.Context, kind types.StoreKind)
	ReportError(ctx context.Context, kind types.StoreKind, httpStatus int)
}

// Result is a successful fetch.
type Result struct {
	Body       string
	StatusCode int
	FinalURL   string
}

type ctxKey int

const storeKindKey ctxKey = iota

// Fetcher issues paced, retried GET requests. Safe for concurrent use.
type Fetcher struct {
	client       *retryablehttp.Client
	limiter      RateLimiter
	userAgents   *userAgentPool
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewFetcher creates a fetcher. limiter may be nil to disable pacing.
func NewFetcher(cfg config.FetchConfig, limiter RateLimiter, logger *zap.Logger) *Fetcher {
	f := &Fetcher{
		limiter:      limiter,
		userAgents:   newUserAgentPool(cfg.UserAgents),
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       logger,
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = time.Duration(cfg.RetryBaseDelay)
	client.RetryWaitMax = time.Duration(cfg.RetryBaseDelay) * 8
	client.Logger = &retryLogger{logger.Sugar()}
	// Keep the last response on exhausted retries so the status code
	// survives into error classification
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// The default policy retries network errors, 429 and 5xx; 408 is
	// just as transient
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil && resp != nil && resp.StatusCode == http.StatusRequestTimeout {
			return true, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	client.HTTPClient = &http.Client{
		Timeout: time.Duration(cfg.Timeout),
		Transport: &http.Transport{
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	client.RequestLogHook = f.beforeAttempt
	client.ResponseLogHook = f.afterAttempt
	f.client = client

	return f
}

// beforeAttempt runs once per attempt, including retries: it rotates the
// user agent and blocks on the per-store pacing slot.
func (f *Fetcher) beforeAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	req.Header.Set("User-Agent", f.userAgents.Next())

	kind, ok := req.Context().Value(storeKindKey).(types.StoreKind)
	if !ok || f.limiter == nil {
		return
	}
	if _, err := f.limiter.Acquire(req.Context(), kind); err != nil {
		// Cancelled while waiting; the transport fails the attempt next
		return
	}
	if attempt > 0 {
		f.logger.Debug("Retrying fetch",
			zap.String("url", req.URL.String()),
			zap.Int("attempt", attempt))
	}
}

// afterAttempt reports each response to the limiter. Throttling and
// server errors lower the rate; anything the server answered calmly,
// including 404, counts as success.
func (f *Fetcher) afterAttempt(_ retryablehttp.Logger, resp *http.Response) {
	kind, ok := resp.Request.Context().Value(storeKindKey).(types.StoreKind)
	if !ok || f.limiter == nil {
		return
	}

	status := resp.StatusCode
	if status == http.StatusTooManyRequests || status == http.StatusForbidden ||
		status == http.StatusRequestTimeout || status >= 500 {
		f.limiter.ReportError(resp.Request.Context(), kind, status)
		return
	}
	f.limiter.ReportSuccess(resp.Request.Context(), kind)
}

// Fetch retrieves a URL. Pacing applies when kind is a known store; pass
// an empty kind for developer domains, which are not paced. A non-2xx
// status, an oversized body and invalid UTF-8 all return *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, kind types.StoreKind) (*Result, error) {
	if kind != "" && kind != types.StoreUnknown {
		ctx = context.WithValue(ctx, storeKindKey, kind)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, f.classifyTransportError(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, f.classifyTransportError(ctx, rawURL, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &Error{Kind: KindOversized, URL: rawURL,
			Err: errors.New("response exceeds size limit")}
	}
	if !utf8.Valid(body) {
		return nil, &Error{Kind: KindDecode, URL: rawURL,
			Err: errors.New("response is not valid UTF-8")}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	f.logger.Debug("Fetch completed",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("body_bytes", len(body)),
		zap.Duration("duration", time.Since(start)))

	return &Result{
		Body:       string(body),
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
	}, nil
}

func (f *Fetcher) classifyTransportError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, URL: rawURL, Err: err}
	}
	return &Error{Kind: KindNetwork, URL: rawURL, Err: err}
}

// retryLogger adapts zap to the retryablehttp leveled logger. Retry noise
// stays at debug.
type retryLogger struct {
	sugar *zap.SugaredLogger
}

func (r *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	r.sugar.Debugw(msg, keysAndValues...)
}

func (r *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.sugar.Debugw(msg, keysAndValues...)
}

func (r *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	r.sugar.Debugw(msg, keysAndValues...)
}

func (r *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.sugar.Debugw(msg, keysAndValues...)
}
