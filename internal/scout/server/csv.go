package server

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adscout/engine/pkg/types"
)

// csvChunkRows bounds how many rows are buffered before a flush.
const csvChunkRows = 100

// csvHeader is the fixed column set of the export, one row per bundle.
var csvHeader = []string{
	"bundleId",
	"storeType",
	"success",
	"domain",
	"appAdsTxtExists",
	"appAdsTxtUrl",
	"totalLines",
	"validLines",
	"uniquePublishers",
	"searchMatches",
	"error",
}

// handleExportCSV runs the same pipeline as the stream endpoint but
// emits CSV rows in completion order, flushed in chunks. A trailing
// summary line carries the aggregate counters.
func (s *Server) handleExportCSV(ctx *fasthttp.RequestCtx, clientIP string, req *types.ExtractRequest, requestID string, logger *zap.Logger, start time.Time) {
	ctx.SetContentType("text/csv; charset=utf-8")
	ctx.Response.Header.Set("Content-Disposition", `attachment; filename="app-ads-extract.csv"`)
	ctx.Response.SetStatusCode(fasthttp.StatusOK)

	ctx.Response.SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamCSV(w, clientIP, req, requestID, logger, start)
	})
}

func (s *Server) streamCSV(w *bufio.Writer, clientIP string, req *types.ExtractRequest, requestID string, logger *zap.Logger, start time.Time) {
	streamCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.StreamTimeout))
	defer cancel()

	var successCount, errorCount, total, pending int

	defer func() {
		if r := recover(); r != nil {
			logger.Error("CSV export aborted by internal error",
				zap.Any("panic", r),
				zap.Int("emitted", total))
			fmt.Fprintf(w, "# error=internal totalProcessed=%d successCount=%d errorCount=%d\n",
				total, successCount, errorCount)
			w.Flush()
			s.emitEvent(clientIP, PathExportCSV, requestID, req, fasthttp.StatusInternalServerError,
				successCount, errorCount, s.pipeline.CacheStats(), fmt.Sprintf("%v", r), start)
		}
	}()

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return
	}
	for result := range s.pipeline.ProcessStream(streamCtx, req) {
		if err := writer.Write(csvRow(&result)); err != nil {
			logger.Info("Client disconnected during CSV export",
				zap.Int("emitted", total),
				zap.Error(err))
			cancel()
			return
		}
		s.recordResult(&result)

		total++
		pending++
		if result.Success {
			successCount++
		} else {
			errorCount++
		}

		if pending >= csvChunkRows {
			writer.Flush()
			if err := w.Flush(); err != nil {
				logger.Info("Client disconnected during CSV export",
					zap.Int("emitted", total),
					zap.Error(err))
				cancel()
				return
			}
			pending = 0
		}
	}

	writer.Flush()
	fmt.Fprintf(w, "# totalProcessed=%d successCount=%d errorCount=%d processingTime=%dms\n",
		total, successCount, errorCount, time.Since(start).Milliseconds())
	w.Flush()

	logger.Info("CSV export completed",
		zap.Int("total", total),
		zap.Int("success_count", successCount),
		zap.Int("error_count", errorCount))
	s.emitEvent(clientIP, PathExportCSV, requestID, req, fasthttp.StatusOK,
		successCount, errorCount, s.pipeline.CacheStats(), "", start)
}

// csvRow flattens one result. The matching-line text is never exported;
// searchMatches carries the count, marked when the match list was
// truncated by the analyzer cap.
func csvRow(result *types.BundleResult) []string {
	row := []string{
		result.BundleID,
		string(result.StoreType),
		strconv.FormatBool(result.Success),
		result.Domain,
		"", "", "", "", "", "",
		result.Error,
	}

	info := result.AppAdsTxt
	if info == nil {
		return row
	}
	row[4] = strconv.FormatBool(info.Exists)
	row[5] = info.URL
	if info.Analyzed != nil {
		row[6] = strconv.Itoa(info.Analyzed.TotalLines)
		row[7] = strconv.Itoa(info.Analyzed.ValidLines)
		row[8] = strconv.Itoa(info.Analyzed.UniquePublishers)
	}
	if info.SearchResults != nil {
		row[9] = strconv.Itoa(info.SearchResults.Total)
		if info.SearchResults.Truncated {
			row[9] += " (truncated)"
		}
	}
	return row
}
