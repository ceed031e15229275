package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adscout/engine/pkg/types"
)

// parseRequest decodes and validates the shared extract request body.
// Validation failures surface as 400 at the boundary; no results are
// emitted for invalid requests.
func (s *Server) parseRequest(ctx *fasthttp.RequestCtx) (*types.ExtractRequest, error) {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is required")
	}
	if len(body) > s.cfg.Server.MaxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", s.cfg.Server.MaxBodyBytes)
	}

	var req types.ExtractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if len(req.BundleIDs) == 0 {
		return nil, fmt.Errorf("bundleIds must not be empty")
	}
	if len(req.BundleIDs) > s.cfg.Server.MaxBundleIDs {
		return nil, fmt.Errorf("bundleIds exceeds the maximum of %d", s.cfg.Server.MaxBundleIDs)
	}
	if len(req.SearchTerms) > s.cfg.Server.MaxSearchTerms {
		return nil, fmt.Errorf("searchTerms exceeds the maximum of %d", s.cfg.Server.MaxSearchTerms)
	}
	return &req, nil
}

// handleBatch runs the pipeline to completion and writes one JSON
// document with results in input order.
func (s *Server) handleBatch(ctx *fasthttp.RequestCtx, clientIP string, req *types.ExtractRequest, requestID string, logger *zap.Logger, start time.Time) {
	batchCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.BatchTimeout))
	defer cancel()

	resp := s.pipeline.ProcessBatch(batchCtx, req)
	s.recordResults(resp.Results)

	body, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to serialize batch response", zap.Error(err))
		s.writeError(ctx, PathExtract, fasthttp.StatusInternalServerError, "Failed to serialize response")
		return
	}

	ctx.SetContentType("application/json")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)
	ctx.Response.SetBody(body)

	logger.Info("Batch request completed",
		zap.Int("total", resp.TotalProcessed),
		zap.Int("success_count", resp.SuccessCount),
		zap.Int("error_count", resp.ErrorCount),
		zap.String("processing_time", resp.ProcessingTime))

	s.emitEvent(clientIP, PathExtract, requestID, req, fasthttp.StatusOK,
		resp.SuccessCount, resp.ErrorCount, resp.CacheStats, "", start)
}

// jsonString renders s as a JSON string literal.
func jsonString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `"internal error"`
	}
	return string(encoded)
}
