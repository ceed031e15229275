package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adscout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 2*time.Minute, cfg.Server.BatchTimeout.ToDuration())
	assert.Equal(t, 5*time.Minute, cfg.Server.StreamTimeout.ToDuration())
	assert.Equal(t, 1<<20, cfg.Server.MaxBodyBytes)
	assert.Equal(t, 200, cfg.Server.MaxBundleIDs)
	assert.Equal(t, 5, cfg.Server.MaxSearchTerms)

	assert.Empty(t, cfg.Redis.Addr, "Redis should be disabled by default")

	assert.Equal(t, 2048, cfg.Cache.MemoryEntries)
	assert.Equal(t, 24*time.Hour, cfg.Cache.ListingTTL.ToDuration())
	assert.Equal(t, 12*time.Hour, cfg.Cache.AppAdsTTL.ToDuration())
	assert.Equal(t, time.Hour, cfg.Cache.NegativeTTL.ToDuration())
	assert.Equal(t, 1000, cfg.Cache.File.CompressionMinSize)

	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout.ToDuration())
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, int64(20<<20), cfg.Fetch.MaxBodyBytes)
	assert.Equal(t, 50, cfg.Fetch.MaxConnsPerHost)

	assert.Equal(t, 1.0, cfg.RateLimit.MinRate)
	assert.Equal(t, 20.0, cfg.RateLimit.MaxRate)

	assert.Equal(t, 2, cfg.Workers.Min)
	assert.Equal(t, 8, cfg.Workers.Max)
	assert.Equal(t, 256, cfg.Workers.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Workers.TaskTimeout.ToDuration())
	assert.Equal(t, 5*time.Minute, cfg.Workers.MaxTaskTimeout.ToDuration())
	assert.Equal(t, 150, cfg.Workers.MemoryWarningMB)
	assert.Equal(t, 250, cfg.Workers.MemoryHighMB)
	assert.Equal(t, 350, cfg.Workers.MemoryCriticalMB)

	assert.Equal(t, LogLevelInfo, cfg.Log.Level)
	assert.True(t, cfg.Log.Console.Enabled, "console logging should be on when nothing is configured")
	assert.Equal(t, LogFormatConsole, cfg.Log.Console.Format)

	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "adscout", cfg.Metrics.Namespace)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
  batch_timeout: 90s
  max_bundle_ids: 50

redis:
  addr: "localhost:6379"
  db: 2

cache:
  memory_entries: 512
  listing_ttl: 6h
  file:
    base_path: /tmp/adscout-test

fetch:
  timeout: 20s
  max_retries: 5
  user_agents:
    - "TestAgent/1.0"

ratelimit:
  min_rate: 2
  max_rate: 15
  overrides:
    googleplay: 10
    appstore: 12

workers:
  min: 4
  max: 16

orchestrator:
  concurrency: 24

log:
  level: debug

metrics:
  enabled: true
  namespace: adscout_test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 90*time.Second, cfg.Server.BatchTimeout.ToDuration())
	assert.Equal(t, 50, cfg.Server.MaxBundleIDs)
	// Unset fields get defaults
	assert.Equal(t, 5*time.Minute, cfg.Server.StreamTimeout.ToDuration())
	assert.Equal(t, 5, cfg.Server.MaxSearchTerms)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	assert.Equal(t, 512, cfg.Cache.MemoryEntries)
	assert.Equal(t, 6*time.Hour, cfg.Cache.ListingTTL.ToDuration())
	assert.Equal(t, "/tmp/adscout-test", cfg.Cache.File.BasePath)
	assert.Equal(t, 12*time.Hour, cfg.Cache.AppAdsTTL.ToDuration())

	assert.Equal(t, 20*time.Second, cfg.Fetch.Timeout.ToDuration())
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	assert.Equal(t, []string{"TestAgent/1.0"}, cfg.Fetch.UserAgents)

	assert.Equal(t, 2.0, cfg.RateLimit.MinRate)
	assert.Equal(t, 15.0, cfg.RateLimit.MaxRate)
	assert.Equal(t, map[string]float64{"googleplay": 10, "appstore": 12}, cfg.RateLimit.Overrides)

	assert.Equal(t, 4, cfg.Workers.Min)
	assert.Equal(t, 16, cfg.Workers.Max)
	assert.Equal(t, 24, cfg.Orchestrator.Concurrency)

	assert.Equal(t, LogLevelDebug, cfg.Log.Level)
	assert.Equal(t, "adscout_test", cfg.Metrics.Namespace)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 8, cfg.Workers.Max)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
	assert.Nil(t, cfg)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
  bacth_timeout: 90s
`)

	cfg, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration field")
	assert.Nil(t, cfg)
}

func TestLoad_ExtendedDurations(t *testing.T) {
	path := writeConfig(t, `
cache:
  listing_ttl: 2d
  appads_ttl: 1w
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, cfg.Cache.ListingTTL.ToDuration())
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.AppAdsTTL.ToDuration())
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name          string
		yaml          string
		errorContains string
	}{
		{
			name: "workers max below min",
			yaml: `
workers:
  min: 5
  max: 2
`,
			errorContains: "workers.max",
		},
		{
			name: "rate max below min",
			yaml: `
ratelimit:
  min_rate: 5
  max_rate: 2
`,
			errorContains: "ratelimit.max_rate",
		},
		{
			name: "negative rate override",
			yaml: `
ratelimit:
  overrides:
    googleplay: -1
`,
			errorContains: "ratelimit.overrides.googleplay",
		},
		{
			name: "negative body limit",
			yaml: `
server:
  max_body_bytes: -1
`,
			errorContains: "server.max_body_bytes",
		},
		{
			name: "negative redis db",
			yaml: `
redis:
  db: -1
`,
			errorContains: "redis.db",
		},
		{
			name: "memory thresholds out of order",
			yaml: `
workers:
  memory_warning_mb: 400
`,
			errorContains: "memory thresholds",
		},
		{
			name: "max task timeout below task timeout",
			yaml: `
workers:
  task_timeout: 10m
  max_task_timeout: 1m
`,
			errorContains: "workers.max_task_timeout",
		},
		{
			name: "negative concurrency",
			yaml: `
orchestrator:
  concurrency: -1
`,
			errorContains: "orchestrator.concurrency",
		},
		{
			name: "file logging without path",
			yaml: `
log:
  file:
    enabled: true
`,
			errorContains: "log.file.path",
		},
		{
			name: "event logging without path",
			yaml: `
events:
  file:
    enabled: true
`,
			errorContains: "events.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ADSCOUT_REDIS_ADDR", "redis-prod:6379")
	t.Setenv("ADSCOUT_WORKERS_MAX", "12")
	t.Setenv("ADSCOUT_MEMORY_CRITICAL_MB", "500")
	t.Setenv("ADSCOUT_LISTING_TTL", "2h")
	t.Setenv("ADSCOUT_ORCHESTRATOR_CONCURRENCY", "7")
	t.Setenv("ADSCOUT_RATE_GOOGLEPLAY", "15")

	cfg, err := Load(writeConfig(t, `
redis:
  addr: "localhost:6379"
workers:
  max: 8
`))
	require.NoError(t, err)

	assert.Equal(t, "redis-prod:6379", cfg.Redis.Addr, "env should win over file")
	assert.Equal(t, 12, cfg.Workers.Max)
	assert.Equal(t, 500, cfg.Workers.MemoryCriticalMB)
	assert.Equal(t, 2*time.Hour, cfg.Cache.ListingTTL.ToDuration())
	assert.Equal(t, 7, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 15.0, cfg.RateLimit.Overrides["googleplay"])
}

func TestLoad_EnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("ADSCOUT_WORKERS_MIN", "abc")
	t.Setenv("ADSCOUT_LISTING_TTL", "not-a-duration")
	t.Setenv("ADSCOUT_RATE_APPSTORE", "-3")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers.Min, "unparseable int keeps default")
	assert.Equal(t, 24*time.Hour, cfg.Cache.ListingTTL.ToDuration(), "unparseable duration keeps default")
	assert.NotContains(t, cfg.RateLimit.Overrides, "appstore", "non-positive rate is ignored")
}

func TestLoad_EnvOverridesAreValidated(t *testing.T) {
	// Raising only the warning threshold above high must fail validation
	t.Setenv("ADSCOUT_MEMORY_WARNING_MB", "500")

	cfg, err := Load(writeConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory thresholds")
	assert.Nil(t, cfg)
}

func TestEffectiveConcurrency(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 16, cfg.EffectiveConcurrency(), "default derives from workers.max * 2")

	cfg.Orchestrator.Concurrency = 10
	assert.Equal(t, 10, cfg.EffectiveConcurrency())

	cfg.Orchestrator.Concurrency = 0
	cfg.Workers.Max = 3
	assert.Equal(t, 6, cfg.EffectiveConcurrency())
}
