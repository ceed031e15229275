package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
	"github.com/adscout/engine/internal/common/logger"
	"github.com/adscout/engine/internal/common/metricsserver"
	"github.com/adscout/engine/internal/common/redis"
	"github.com/adscout/engine/internal/scout/appads"
	"github.com/adscout/engine/internal/scout/cache"
	"github.com/adscout/engine/internal/scout/cleanup"
	"github.com/adscout/engine/internal/scout/events"
	"github.com/adscout/engine/internal/scout/fetch"
	"github.com/adscout/engine/internal/scout/metrics"
	"github.com/adscout/engine/internal/scout/orchestrator"
	"github.com/adscout/engine/internal/scout/ratelimit"
	"github.com/adscout/engine/internal/scout/server"
	"github.com/adscout/engine/internal/scout/workerpool"
)

// gaugeRefreshInterval drives the background publisher for worker,
// cache and rate-limit gauges.
const gaugeRefreshInterval = 15 * time.Second

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "configs/adscout.yaml", "path to configuration file")
	testMode := flag.Bool("t", false, "test configuration and exit")
	flag.Parse()

	// If test mode, validate the config and exit
	if *testMode {
		os.Exit(runConfigTest(*configPath))
	}

	// Create initial logger for startup
	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting AdScout", zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Reconfigure logger based on config settings
	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer dynamicLogger.Sync()

	// Tag every log line with the instance ID
	instanceID := newInstanceID()
	appLogger := dynamicLogger.With(zap.String("instance", instanceID))

	// Redis is optional; without it the file cache carries persistence
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(&cfg.Redis, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	keyGenerator := redis.NewKeyGenerator()

	// Pick the persistent cache tier behind the in-memory LRU
	var backend cache.Backend
	var cleanupWorker *cleanup.Worker
	if redisClient != nil {
		backend = cache.NewRedisStore(redisClient, keyGenerator, cfg.Cache.File.CompressionMinSize, appLogger)
		appLogger.Info("Using Redis cache backend", zap.String("addr", cfg.Redis.Addr))
	} else {
		fileStore, err := cache.NewFileStore(cfg.Cache.File, keyGenerator, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to create file cache", zap.Error(err))
		}
		backend = fileStore
		cleanupWorker = cleanup.NewWorker(cfg.Cache.File.CleanupInterval.ToDuration(), fileStore, appLogger)
		appLogger.Info("Using file cache backend", zap.String("base_path", cfg.Cache.File.BasePath))
	}

	contentCache := cache.New(cfg.Cache.MemoryEntries, backend, appLogger)

	// Rate limiter state survives restarts only when Redis is available
	var limiterStore ratelimit.StateStore
	if cfg.RateLimit.Persist && redisClient != nil {
		limiterStore = ratelimit.NewRedisStateStore(redisClient, keyGenerator, appLogger)
	}
	limiter := ratelimit.NewLimiter(cfg.RateLimit, limiterStore, appLogger)

	fetcher := fetch.NewFetcher(cfg.Fetch, limiter, appLogger)

	analyzer := appads.NewAnalyzer(appads.Config{
		MemoryWarningBytes:  uint64(cfg.Workers.MemoryWarningMB) << 20,
		MemoryHighBytes:     uint64(cfg.Workers.MemoryHighMB) << 20,
		MemoryCriticalBytes: uint64(cfg.Workers.MemoryCriticalMB) << 20,
	}, appLogger)

	pool := workerpool.New(cfg.Workers, appLogger)
	pool.Start()

	// The collector always exists; only the exposition server is gated
	// on the metrics config
	collector := metrics.NewCollector(cfg.Metrics.Namespace, appLogger)

	pipeline := orchestrator.New(cfg, contentCache, fetcher, analyzer, pool, collector, appLogger)

	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		collector,
		appLogger,
	)
	if err != nil {
		appLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	// Background gauge refresher
	refreshDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(gaugeRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				collector.UpdateWorkerStats(pool.Stats(), pool.MemoryLevel())
				collector.UpdateCacheStats(contentCache.Stats())
				collector.UpdateStoreRates(limiter.Rates())
			case <-refreshDone:
				return
			}
		}
	}()

	// Initialize event emitter
	var eventEmitter events.Emitter
	if cfg.Events.File.Enabled {
		fileEmitter, err := events.NewFileEmitter(cfg.Events.File, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to create event emitter", zap.Error(err))
		}
		eventEmitter = fileEmitter
		appLogger.Info("Event logging initialized", zap.String("path", cfg.Events.File.Path))
	}

	// Start cleanup worker
	if cleanupWorker != nil {
		cleanupWorker.Start()
	}

	srv := server.NewServer(cfg, pipeline, pool, collector, eventEmitter, instanceID, appLogger)

	// Channel for server startup errors
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrors <- err
		}
	}()

	// Wait briefly for the server to start and check for immediate failures
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrors:
		appLogger.Fatal("Server failed to start", zap.Error(err))
	default:
	}

	appLogger.Info("AdScout started", zap.String("addr", cfg.Server.Listen))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	// Wait for shutdown signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Info("Shutting down AdScout...")
	case err := <-serverErrors:
		dynamicLogger.EnsureInfoLevelForShutdown()
		appLogger.Error("Server failed, initiating shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown cleanup worker
	if cleanupWorker != nil {
		cleanupWorker.Shutdown()
	}

	// Stop the gauge refresher
	close(refreshDone)

	// Shutdown metrics server
	if metricsServer != nil {
		appLogger.Info("Shutting down metrics server")
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// Shutdown API server; this drains streams and closes the emitter
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("API server shutdown error", zap.Error(err))
	}
	appLogger.Info("API server shutdown complete")

	// Drain the worker pool last so in-flight analyses can finish
	if err := pool.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Worker pool shutdown error", zap.Error(err))
	}

	appLogger.Info("AdScout stopped")
}

// runConfigTest loads and validates the configuration, printing the
// result in nginx -t style. Returns the process exit code.
func runConfigTest(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration file %s test failed: %v\n", configPath, err)
		return 1
	}
	fmt.Printf("configuration file %s test is successful\n", configPath)
	fmt.Printf("listen=%s workers=%d-%d cache_backend=%s\n",
		cfg.Server.Listen, cfg.Workers.Min, cfg.Workers.Max, cacheBackendName(cfg))
	return 0
}

func cacheBackendName(cfg *config.Config) string {
	if cfg.Redis.Addr != "" {
		return "redis"
	}
	return "file"
}

func newInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()[:8]
	}
	return host + "-" + uuid.NewString()[:8]
}
