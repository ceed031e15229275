package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adscout/engine/pkg/types"
)

// heartbeatInterval paces the keep-alive comments between records.
const heartbeatInterval = time.Second

// handleStream emits one JSON object incrementally: an opening fragment,
// completion-ordered BundleResult records separated by commas with
// heartbeat comments between them, and a closing trailer with the
// aggregate counters. Clients must skip the /* hb:<ms> */ comments.
func (s *Server) handleStream(ctx *fasthttp.RequestCtx, clientIP string, req *types.ExtractRequest, requestID string, logger *zap.Logger, start time.Time) {
	ctx.SetContentType("application/json")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)

	ctx.Response.SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamResults(w, clientIP, req, requestID, logger, start)
	})
}

func (s *Server) streamResults(w *bufio.Writer, clientIP string, req *types.ExtractRequest, requestID string, logger *zap.Logger, start time.Time) {
	streamCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.StreamTimeout))
	defer cancel()

	var total, successCount, errorCount int
	opened := false

	// The status line is long gone once streaming starts, so an unexpected
	// failure closes the document with an error trailer instead of a 500.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Stream aborted by internal error",
				zap.Any("panic", r),
				zap.Int("emitted", total))
			s.writeStreamErrorTrailer(w, opened, total, successCount, errorCount, start)
			s.emitEvent(clientIP, PathStreamExtract, requestID, req, fasthttp.StatusInternalServerError,
				successCount, errorCount, s.pipeline.CacheStats(), fmt.Sprintf("%v", r), start)
		}
	}()

	results := s.pipeline.ProcessStream(streamCtx, req)

	if _, err := w.WriteString(`{"success":true,"results":[`); err != nil {
		return
	}
	opened = true

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	first := true

	for {
		select {
		case result, ok := <-results:
			if !ok {
				s.writeStreamTrailer(w, total, successCount, errorCount, start)
				logger.Info("Stream request completed",
					zap.Int("total", total),
					zap.Int("success_count", successCount),
					zap.Int("error_count", errorCount))
				s.emitEvent(clientIP, PathStreamExtract, requestID, req, fasthttp.StatusOK,
					successCount, errorCount, s.pipeline.CacheStats(), "", start)
				return
			}

			if !first {
				w.WriteByte(',')
			}
			first = false

			encoded, err := json.Marshal(&result)
			if err != nil {
				// Keep the record count invariant even if one record
				// cannot be serialized
				fallback := types.FailedResult(result.BundleID, result.StoreType,
					types.ErrKindInternal, "Failed to serialize result")
				encoded, _ = json.Marshal(&fallback)
			}
			w.Write(encoded)
			s.recordResult(&result)

			total++
			if result.Success {
				successCount++
			} else {
				errorCount++
			}

			if err := w.Flush(); err != nil {
				logger.Info("Client disconnected mid-stream",
					zap.Int("emitted", total),
					zap.Error(err))
				cancel()
				return
			}

		case <-heartbeat.C:
			fmt.Fprintf(w, "/* hb:%d */", time.Since(start).Milliseconds())
			if err := w.Flush(); err != nil {
				logger.Info("Client disconnected during heartbeat", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (s *Server) writeStreamTrailer(w *bufio.Writer, total, successCount, errorCount int, start time.Time) {
	fmt.Fprintf(w, `],"totalProcessed":%d,"successCount":%d,"errorCount":%d,"processingTime":"%dms"}`,
		total, successCount, errorCount, time.Since(start).Milliseconds())
	w.Flush()
}

// writeStreamErrorTrailer closes the stream document after an internal
// failure. The trailer repeats the success key as false; stream-aware
// parsers keep the last value seen. When the opening fragment was never
// written, a complete error document is emitted instead.
func (s *Server) writeStreamErrorTrailer(w *bufio.Writer, opened bool, total, successCount, errorCount int, start time.Time) {
	if opened {
		w.WriteString(`],`)
	} else {
		w.WriteByte('{')
	}
	fmt.Fprintf(w, `"success":false,"error":%s,"totalProcessed":%d,"successCount":%d,"errorCount":%d,"processingTime":"%dms"}`,
		jsonString("Internal server error"), total, successCount, errorCount, time.Since(start).Milliseconds())
	w.Flush()
}
