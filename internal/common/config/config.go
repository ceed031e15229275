// Package config loads and validates the service configuration from YAML,
// applies defaults in one place, and layers environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adscout/engine/internal/common/yamlutil"
	"github.com/adscout/engine/pkg/types"
)

// Log levels and formats accepted by the log configuration.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatConsole = "console"
	LogFormatText    = "text"
	LogFormatJSON    = "json"
)

// Config is the root configuration for the extraction service.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Cache        CacheConfig        `yaml:"cache"`
	Fetch        FetchConfig        `yaml:"fetch"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Workers      WorkersConfig      `yaml:"workers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Log          LogConfig          `yaml:"log"`
	Events       EventsConfig       `yaml:"events"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig configures the public API server.
type ServerConfig struct {
	Listen         string         `yaml:"listen"`
	BatchTimeout   types.Duration `yaml:"batch_timeout"`
	StreamTimeout  types.Duration `yaml:"stream_timeout"`
	MaxBodyBytes   int            `yaml:"max_body_bytes"`
	MaxBundleIDs   int            `yaml:"max_bundle_ids"`
	MaxSearchTerms int            `yaml:"max_search_terms"`
}

// RedisConfig configures the optional shared key-value store.
// An empty Addr disables Redis; the file-backed cache tier is used instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig configures the two-tier content cache.
type CacheConfig struct {
	MemoryEntries int             `yaml:"memory_entries"`
	ListingTTL    types.Duration  `yaml:"listing_ttl"`
	AppAdsTTL     types.Duration  `yaml:"appads_ttl"`
	NegativeTTL   types.Duration  `yaml:"negative_ttl"`
	File          FileCacheConfig `yaml:"file"`
}

// FileCacheConfig configures the file-backed durable tier.
type FileCacheConfig struct {
	BasePath           string         `yaml:"base_path"`
	CompressionMinSize int            `yaml:"compression_min_size"`
	CleanupInterval    types.Duration `yaml:"cleanup_interval"`
}

// FetchConfig configures outbound HTTP fetching.
type FetchConfig struct {
	Timeout         types.Duration `yaml:"timeout"`
	MaxRetries      int            `yaml:"max_retries"`
	RetryBaseDelay  types.Duration `yaml:"retry_base_delay"`
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`
	MaxConnsPerHost int            `yaml:"max_conns_per_host"`
	UserAgents      []string       `yaml:"user_agents"`
}

// RateLimitConfig configures the adaptive per-store rate limiter.
// Overrides maps store kind names to initial requests-per-second.
type RateLimitConfig struct {
	MinRate   float64            `yaml:"min_rate"`
	MaxRate   float64            `yaml:"max_rate"`
	Persist   bool               `yaml:"persist"`
	Overrides map[string]float64 `yaml:"overrides"`
}

// WorkersConfig configures the analyzer worker pool.
type WorkersConfig struct {
	Min              int            `yaml:"min"`
	Max              int            `yaml:"max"`
	QueueSize        int            `yaml:"queue_size"`
	TaskTimeout      types.Duration `yaml:"task_timeout"`
	MaxTaskTimeout   types.Duration `yaml:"max_task_timeout"`
	IdleTimeout      types.Duration `yaml:"idle_timeout"`
	MemoryWarningMB  int            `yaml:"memory_warning_mb"`
	MemoryHighMB     int            `yaml:"memory_high_mb"`
	MemoryCriticalMB int            `yaml:"memory_critical_mb"`
}

// OrchestratorConfig configures per-batch scheduling.
// Concurrency 0 means workers.max * 2.
type OrchestratorConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LogConfig configures logging outputs.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

// ConsoleLogConfig configures the console log output.
type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileLogConfig configures the file log output.
type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig configures log file rotation (lumberjack).
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // megabytes
	MaxAge     int  `yaml:"max_age"`     // days
	MaxBackups int  `yaml:"max_backups"` // files
	Compress   bool `yaml:"compress"`
}

// EventsConfig configures the optional request event log.
type EventsConfig struct {
	File FileEventConfig `yaml:"file"`
}

// FileEventConfig configures the JSONL request event log output.
type FileEventConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// tests and for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.BatchTimeout == 0 {
		c.Server.BatchTimeout = types.Duration(2 * time.Minute)
	}
	if c.Server.StreamTimeout == 0 {
		c.Server.StreamTimeout = types.Duration(5 * time.Minute)
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.MaxBundleIDs == 0 {
		c.Server.MaxBundleIDs = 200
	}
	if c.Server.MaxSearchTerms == 0 {
		c.Server.MaxSearchTerms = 5
	}

	if c.Cache.MemoryEntries == 0 {
		c.Cache.MemoryEntries = 2048
	}
	if c.Cache.ListingTTL == 0 {
		c.Cache.ListingTTL = types.Duration(24 * time.Hour)
	}
	if c.Cache.AppAdsTTL == 0 {
		c.Cache.AppAdsTTL = types.Duration(12 * time.Hour)
	}
	if c.Cache.NegativeTTL == 0 {
		c.Cache.NegativeTTL = types.Duration(1 * time.Hour)
	}
	if c.Cache.File.BasePath == "" {
		c.Cache.File.BasePath = "/var/cache/adscout"
	}
	if c.Cache.File.CompressionMinSize == 0 {
		c.Cache.File.CompressionMinSize = 1000
	}
	if c.Cache.File.CleanupInterval == 0 {
		c.Cache.File.CleanupInterval = types.Duration(1 * time.Hour)
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = types.Duration(15 * time.Second)
	}
	if c.Fetch.MaxRetries == 0 {
		c.Fetch.MaxRetries = 3
	}
	if c.Fetch.RetryBaseDelay == 0 {
		c.Fetch.RetryBaseDelay = types.Duration(1 * time.Second)
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = 20 << 20
	}
	if c.Fetch.MaxConnsPerHost == 0 {
		c.Fetch.MaxConnsPerHost = 50
	}

	if c.RateLimit.MinRate == 0 {
		c.RateLimit.MinRate = 1
	}
	if c.RateLimit.MaxRate == 0 {
		c.RateLimit.MaxRate = 20
	}

	if c.Workers.Min == 0 {
		c.Workers.Min = 2
	}
	if c.Workers.Max == 0 {
		c.Workers.Max = 8
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 256
	}
	if c.Workers.TaskTimeout == 0 {
		c.Workers.TaskTimeout = types.Duration(30 * time.Second)
	}
	if c.Workers.MaxTaskTimeout == 0 {
		c.Workers.MaxTaskTimeout = types.Duration(5 * time.Minute)
	}
	if c.Workers.IdleTimeout == 0 {
		c.Workers.IdleTimeout = types.Duration(60 * time.Second)
	}
	if c.Workers.MemoryWarningMB == 0 {
		c.Workers.MemoryWarningMB = 150
	}
	if c.Workers.MemoryHighMB == 0 {
		c.Workers.MemoryHighMB = 250
	}
	if c.Workers.MemoryCriticalMB == 0 {
		c.Workers.MemoryCriticalMB = 350
	}

	if c.Log.Level == "" {
		c.Log.Level = LogLevelInfo
	}
	// If both outputs are disabled (zero values), enable console by default
	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}
	if c.Log.Console.Format == "" {
		c.Log.Console.Format = LogFormatConsole
	}
	if c.Log.File.Format == "" {
		c.Log.File.Format = LogFormatText
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "adscout"
	}
}

// applyEnvOverrides layers process environment settings over the file
// configuration. Only operational knobs are exposed this way.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ADSCOUT_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v, ok := envInt("ADSCOUT_WORKERS_MIN"); ok {
		c.Workers.Min = v
	}
	if v, ok := envInt("ADSCOUT_WORKERS_MAX"); ok {
		c.Workers.Max = v
	}
	if v, ok := envInt("ADSCOUT_MEMORY_WARNING_MB"); ok {
		c.Workers.MemoryWarningMB = v
	}
	if v, ok := envInt("ADSCOUT_MEMORY_HIGH_MB"); ok {
		c.Workers.MemoryHighMB = v
	}
	if v, ok := envInt("ADSCOUT_MEMORY_CRITICAL_MB"); ok {
		c.Workers.MemoryCriticalMB = v
	}
	if v, ok := envDuration("ADSCOUT_LISTING_TTL"); ok {
		c.Cache.ListingTTL = types.Duration(v)
	}
	if v, ok := envDuration("ADSCOUT_APPADS_TTL"); ok {
		c.Cache.AppAdsTTL = types.Duration(v)
	}
	if v, ok := envInt("ADSCOUT_ORCHESTRATOR_CONCURRENCY"); ok {
		c.Orchestrator.Concurrency = v
	}

	// Per-store initial rate overrides: ADSCOUT_RATE_GOOGLEPLAY=12 etc.
	for _, kind := range []string{"googleplay", "appstore", "amazon", "roku", "samsung"} {
		envKey := "ADSCOUT_RATE_" + strings.ToUpper(kind)
		if v := os.Getenv(envKey); v != "" {
			rate, err := strconv.ParseFloat(v, 64)
			if err != nil || rate <= 0 {
				continue
			}
			if c.RateLimit.Overrides == nil {
				c.RateLimit.Overrides = make(map[string]float64)
			}
			c.RateLimit.Overrides[kind] = rate
		}
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks configuration consistency. Called after defaults and
// environment overrides have been applied.
func (c *Config) Validate() error {
	if c.Server.MaxBundleIDs < 1 {
		return fmt.Errorf("server.max_bundle_ids must be >= 1, got %d", c.Server.MaxBundleIDs)
	}
	if c.Server.MaxSearchTerms < 1 {
		return fmt.Errorf("server.max_search_terms must be >= 1, got %d", c.Server.MaxSearchTerms)
	}
	if c.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("server.max_body_bytes must be >= 1, got %d", c.Server.MaxBodyBytes)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}
	if c.Cache.MemoryEntries < 1 {
		return fmt.Errorf("cache.memory_entries must be >= 1, got %d", c.Cache.MemoryEntries)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0, got %d", c.Fetch.MaxRetries)
	}
	if c.Fetch.MaxBodyBytes < 1 {
		return fmt.Errorf("fetch.max_body_bytes must be >= 1, got %d", c.Fetch.MaxBodyBytes)
	}
	if c.RateLimit.MinRate <= 0 {
		return fmt.Errorf("ratelimit.min_rate must be > 0, got %f", c.RateLimit.MinRate)
	}
	if c.RateLimit.MaxRate < c.RateLimit.MinRate {
		return fmt.Errorf("ratelimit.max_rate (%f) must be >= min_rate (%f)", c.RateLimit.MaxRate, c.RateLimit.MinRate)
	}
	for kind, rate := range c.RateLimit.Overrides {
		if rate <= 0 {
			return fmt.Errorf("ratelimit.overrides.%s must be > 0, got %f", kind, rate)
		}
	}
	if c.Workers.Min < 1 {
		return fmt.Errorf("workers.min must be >= 1, got %d", c.Workers.Min)
	}
	if c.Workers.Max < c.Workers.Min {
		return fmt.Errorf("workers.max (%d) must be >= workers.min (%d)", c.Workers.Max, c.Workers.Min)
	}
	if c.Workers.MaxTaskTimeout < c.Workers.TaskTimeout {
		return fmt.Errorf("workers.max_task_timeout (%v) must be >= task_timeout (%v)",
			c.Workers.MaxTaskTimeout, c.Workers.TaskTimeout)
	}
	if c.Workers.MemoryWarningMB > c.Workers.MemoryHighMB || c.Workers.MemoryHighMB > c.Workers.MemoryCriticalMB {
		return fmt.Errorf("workers memory thresholds must be ordered warning <= high <= critical, got %d/%d/%d",
			c.Workers.MemoryWarningMB, c.Workers.MemoryHighMB, c.Workers.MemoryCriticalMB)
	}
	if c.Orchestrator.Concurrency < 0 {
		return fmt.Errorf("orchestrator.concurrency must be >= 0, got %d", c.Orchestrator.Concurrency)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("log.file.path must be specified when file logging is enabled")
	}
	if c.Events.File.Enabled && c.Events.File.Path == "" {
		return fmt.Errorf("events.file.path must be specified when event logging is enabled")
	}
	return nil
}

// EffectiveConcurrency resolves the per-batch scheduling width.
func (c *Config) EffectiveConcurrency() int {
	if c.Orchestrator.Concurrency > 0 {
		return c.Orchestrator.Concurrency
	}
	return c.Workers.Max * 2
}
