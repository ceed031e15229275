// Package server exposes the extraction pipeline over HTTP: a batch
// endpoint, a streaming JSON endpoint with heartbeats, and a streaming
// CSV export, plus health and readiness probes.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/internal/common/requestid"
	"github.com/adscout/engine/internal/scout/events"
	"github.com/adscout/engine/internal/scout/metrics"
	"github.com/adscout/engine/pkg/types"
)

// API paths.
const (
	PathExtract       = "/api/extract-multiple"
	PathStreamExtract = "/api/stream/extract-multiple"
	PathExportCSV     = "/api/stream/export-csv"
	PathHealth        = "/health"
	PathReady         = "/ready"
)

// Pipeline drives per-bundle extraction. Satisfied by
// *orchestrator.Orchestrator.
type Pipeline interface {
	ProcessBatch(ctx context.Context, req *types.ExtractRequest) *types.BatchResponse
	ProcessStream(ctx context.Context, req *types.ExtractRequest) <-chan types.BundleResult
	CacheStats() types.CacheStats
}

// HealthChecker gates the readiness probe. Satisfied by *workerpool.Pool.
type HealthChecker interface {
	Healthy() bool
}

// Server is the public API server.
type Server struct {
	cfg        *config.Config
	pipeline   Pipeline
	health     HealthChecker
	metrics    *metrics.Collector
	emitter    events.Emitter
	instanceID string
	logger     *zap.Logger

	server   *fasthttp.Server
	listener net.Listener
}

// NewServer wires the API server. health, collector and emitter may be
// nil; a nil emitter is replaced with a no-op one.
func NewServer(cfg *config.Config, pipeline Pipeline, health HealthChecker, collector *metrics.Collector, emitter events.Emitter, instanceID string, logger *zap.Logger) *Server {
	if emitter == nil {
		emitter = &events.NoopEmitter{}
	}
	s := &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		health:     health,
		metrics:    collector,
		emitter:    emitter,
		instanceID: instanceID,
		logger:     logger,
	}

	s.server = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "AdScout-API",
		MaxRequestBodySize: cfg.Server.MaxBodyBytes,
		ReadTimeout:        30 * time.Second,
		// Streams run up to the stream deadline plus serialization slack
		WriteTimeout: time.Duration(cfg.Server.StreamTimeout) + 30*time.Second,
	}
	return s
}

// Start listens on the configured address and serves until shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Listen, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections from the given listener. Used directly by
// tests with an in-memory listener.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	s.logger.Info("API server started",
		zap.String("address", listener.Addr().String()))
	return s.server.Serve(listener)
}

// Shutdown stops the server gracefully and closes the event emitter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	err := s.server.ShutdownWithContext(ctx)

	if closeErr := s.emitter.Close(); closeErr != nil {
		s.logger.Warn("Failed to close event emitter", zap.Error(closeErr))
		if err == nil {
			err = closeErr
		}
	}
	return err
}

// Handler returns the fasthttp request handler with routing.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		requestID := requestid.Generate(string(ctx.Request.Header.Peek("X-Request-ID")))
		ctx.Response.Header.Set("X-Request-ID", requestID)
		logger := s.logger.With(zap.String("request_id", requestID))

		path := string(ctx.Path())
		switch path {
		case PathHealth:
			s.handleHealth(ctx)
		case PathReady:
			s.handleReady(ctx)
		case PathExtract, PathStreamExtract, PathExportCSV:
			if !ctx.IsPost() {
				logger.Warn("Method not allowed", zap.String("method", string(ctx.Method())))
				s.writeError(ctx, path, fasthttp.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			s.handleExtractRequest(ctx, path, requestID, logger)
		default:
			logger.Debug("Not found", zap.String("path", path))
			s.writeError(ctx, path, fasthttp.StatusNotFound, "Endpoint not found")
		}
	}
}

func (s *Server) handleExtractRequest(ctx *fasthttp.RequestCtx, path, requestID string, logger *zap.Logger) {
	start := time.Now()

	clientIP := ctx.RemoteAddr().String()
	req, err := s.parseRequest(ctx)
	if err != nil {
		logger.Warn("Invalid extract request", zap.Error(err))
		s.writeError(ctx, path, fasthttp.StatusBadRequest, err.Error())
		s.emitEvent(clientIP, path, requestID, req, fasthttp.StatusBadRequest, 0, 0, types.CacheStats{}, err.Error(), start)
		return
	}

	logger.Info("Processing extract request",
		zap.String("endpoint", path),
		zap.Int("bundle_count", len(req.BundleIDs)),
		zap.Int("search_terms", len(req.SearchTerms)))

	switch path {
	case PathExtract:
		s.handleBatch(ctx, clientIP, req, requestID, logger, start)
	case PathStreamExtract:
		s.handleStream(ctx, clientIP, req, requestID, logger, start)
	case PathExportCSV:
		s.handleExportCSV(ctx, clientIP, req, requestID, logger, start)
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)
	ctx.Response.SetBodyString("OK")
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.health != nil && !s.health.Healthy() {
		s.writeError(ctx, PathReady, fasthttp.StatusServiceUnavailable, "Worker pool saturated")
		return
	}
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)
	ctx.Response.SetBodyString("OK")
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, endpoint string, statusCode int, message string) {
	ctx.SetContentType("application/json")
	ctx.Response.SetStatusCode(statusCode)
	ctx.Response.SetBodyString(fmt.Sprintf(`{"success":false,"error":%s}`, jsonString(message)))

	if s.metrics != nil {
		s.metrics.RecordRequest(endpoint, strconv.Itoa(statusCode), 0)
	}
}

// recordResults feeds per-bundle outcomes into the metrics collector.
func (s *Server) recordResults(results []types.BundleResult) {
	if s.metrics == nil {
		return
	}
	for i := range results {
		s.metrics.RecordBundle(results[i].StoreType, bundleOutcome(&results[i]))
	}
}

func (s *Server) recordResult(result *types.BundleResult) {
	if s.metrics != nil {
		s.metrics.RecordBundle(result.StoreType, bundleOutcome(result))
	}
}

func bundleOutcome(result *types.BundleResult) string {
	if result.Success {
		return "success"
	}
	if result.ErrorKind != "" {
		return result.ErrorKind
	}
	return types.ErrKindInternal
}

// emitEvent writes the request event and the request-level metric.
// req may be nil when parsing failed. clientIP is captured before any
// streaming starts because the handler context is not safe to touch
// from the body stream writer.
func (s *Server) emitEvent(clientIP, endpoint, requestID string, req *types.ExtractRequest, status, successCount, errorCount int, cacheStats types.CacheStats, errMsg string, start time.Time) {
	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordRequest(endpoint, strconv.Itoa(status), duration)
	}

	event := &events.RequestEvent{
		RequestID:    requestID,
		Endpoint:     endpoint,
		ClientIP:     clientIP,
		StatusCode:   status,
		SuccessCount: successCount,
		ErrorCount:   errorCount,
		ServeTime:    duration.Seconds(),
		CacheHits:    cacheStats.Hits,
		CacheMisses:  cacheStats.Misses,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now().UTC(),
		InstanceID:   s.instanceID,
	}
	if req != nil {
		event.BundleCount = len(req.BundleIDs)
		event.SearchTerms = len(req.SearchTerms)
	}
	s.emitter.Emit(event)
}
