package metricsserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type mockMetricsHandler struct {
	called bool
}

func (m *mockMetricsHandler) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.called = true
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("# HELP test_metric A test metric\n# TYPE test_metric counter\ntest_metric 42\n")
}

func TestStartMetricsServer_Disabled(t *testing.T) {
	handler := &mockMetricsHandler{}

	server, err := StartMetricsServer(false, ":19471", "/metrics", handler, zap.NewNop())

	require.NoError(t, err)
	assert.Nil(t, server, "Should return nil when metrics disabled")
	assert.False(t, handler.called, "Handler should not be called")
}

func TestMetricsHandler_CorrectPath(t *testing.T) {
	mockHandler := &mockMetricsHandler{}
	handler := createMetricsHandler("/metrics", mockHandler, zap.NewNop())

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")

	handler(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, mockHandler.called, "Metrics handler should be called for /metrics")
	assert.Contains(t, string(ctx.Response.Body()), "test_metric 42")
}

func TestMetricsHandler_WrongPath(t *testing.T) {
	mockHandler := &mockMetricsHandler{}
	handler := createMetricsHandler("/metrics", mockHandler, zap.NewNop())

	testCases := []struct {
		name string
		path string
	}{
		{"root path", "/"},
		{"health path", "/health"},
		{"wrong metrics path", "/metric"},
		{"nested path", "/metrics/detailed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockHandler.called = false
			ctx := &fasthttp.RequestCtx{}
			ctx.Request.SetRequestURI(tc.path)

			handler(ctx)

			assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
			assert.Equal(t, "Not Found", string(ctx.Response.Body()))
			assert.False(t, mockHandler.called, "Metrics handler should not be called for "+tc.path)
		})
	}
}

func TestMetricsHandler_CustomPath(t *testing.T) {
	mockHandler := &mockMetricsHandler{}
	handler := createMetricsHandler("/custom/metrics", mockHandler, zap.NewNop())

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/custom/metrics")
	handler(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, mockHandler.called, "Metrics handler should be called for custom path")

	mockHandler.called = false
	ctx2 := &fasthttp.RequestCtx{}
	ctx2.Request.SetRequestURI("/metrics")
	handler(ctx2)

	assert.Equal(t, fasthttp.StatusNotFound, ctx2.Response.StatusCode())
	assert.False(t, mockHandler.called, "Should not serve on default path when custom path configured")
}

func TestStartMetricsServer_ServesAndShutsDown(t *testing.T) {
	handler := &mockMetricsHandler{}

	server, err := StartMetricsServer(true, ":19472", "/metrics", handler, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, server)

	assert.Equal(t, "AdScout-Metrics", server.Name)
	assert.Equal(t, 10*time.Second, server.ReadTimeout)
	assert.Equal(t, 10*time.Second, server.WriteTimeout)
	assert.Equal(t, 1*1024, server.MaxRequestBodySize)

	time.Sleep(200 * time.Millisecond)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://localhost:19472/metrics")
	req.Header.SetMethod("GET")
	// Avoid keep-alive to prevent a shutdown/read data race in fasthttp internals
	req.Header.SetConnectionClose()

	client := &fasthttp.Client{MaxIdleConnDuration: 0}
	err = client.Do(req, resp)

	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.True(t, handler.called, "Handler should be called")
	assert.Contains(t, string(resp.Body()), "test_metric 42")

	// Allow server workers to finish processing before shutdown
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.ShutdownWithContext(ctx), "Graceful shutdown should complete without error")

	time.Sleep(100 * time.Millisecond)

	resp2 := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp2)
	req.SetRequestURI("http://localhost:19472/metrics")

	err = client.Do(req, resp2)
	assert.Error(t, err, "Should fail to connect after shutdown")
}
