// Package metricsserver runs the Prometheus exposition endpoint on its
// own listener, kept apart from the API port so scrapes never compete
// with request traffic.
package metricsserver

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsHandler serves the exposition payload. Satisfied by the
// metrics collector.
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// StartMetricsServer starts the metrics listener in the background and
// returns it for shutdown. Returns nil when metrics are disabled; the
// listen address is validated against the API address at config load.
func StartMetricsServer(
	enabled bool,
	metricsListen string,
	metricsPath string,
	metricsHandler MetricsHandler,
	logger *zap.Logger,
) (*fasthttp.Server, error) {
	if !enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	metricsServer := &fasthttp.Server{
		Handler:            createMetricsHandler(metricsPath, metricsHandler, logger),
		Name:               "AdScout-Metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		MaxConnsPerIP:      100,
		MaxRequestsPerConn: 1000,
		Concurrency:        100,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", metricsListen),
			zap.String("path", metricsPath))

		if err := metricsServer.ListenAndServe(metricsListen); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", metricsListen),
				zap.Error(err))
		}
	}()

	// Give the listener a moment so immediate bind failures surface in
	// the log during startup
	time.Sleep(100 * time.Millisecond)

	return metricsServer, nil
}

func createMetricsHandler(metricsPath string, metricsHandler MetricsHandler, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == metricsPath {
			metricsHandler.ServeHTTP(ctx)
			return
		}

		logger.Debug("Unknown metrics path", zap.ByteString("path", ctx.Path()))
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
