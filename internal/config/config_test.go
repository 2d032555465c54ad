package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/tokenlens/internal/config"
)

// minimalYAML is a complete valid configuration used as the mutation base.
const minimalYAML = `
server:
  host: "127.0.0.1"
  port: 8090
  read_timeout: 15s
  write_timeout: 0s
  shutdown_timeout: 30s
  max_body_bytes: 1048576
database:
  url: "${DATABASE_URL:-file:test.db}"
  busy_timeout_ms: 5000
fetch:
  user_agent: "${FETCH_USER_AGENT:-tokenlens-test/1.0}"
  per_fetch_timeout: 10s
  phase_timeout_static: 45s
  phase_timeout_computed: 90s
  max_html_bytes: 5242880
  max_stylesheet_bytes: 8388608
  max_total_bytes: 41943040
  max_redirects: 5
  import_depth: 4
  fan_out: 8
  global_slots: 64
  robots_cache_ttl: 1h
  browser:
    headless: true
    element_sample: 1500
    stable_wait: 300ms
    page_timeout: 30s
css_store:
  ttl_days: ${CSS_TTL_DAYS:-30}
  sweep_interval: 6h
scan:
  max_concurrent: ${MAX_CONCURRENT_SCANS:-16}
  queue_depth: 128
  revalidate_after_ms: ${REVALIDATE_AFTER_MS:-900000}
  hard_expiry_ms: ${HARD_EXPIRY_MS:-86400000}
  parse_timeout: 20s
  analyze_timeout: 10s
  diff_timeout: 5s
  overall_timeout_static: 120s
  overall_timeout_computed: 180s
  memory_ceiling_mb: 256
  retry:
    base_delay: 250ms
    max_attempts: 3
  replay_retention: 30s
analyzer:
  color_cluster_delta_e: 3.0
  color_cohesion_delta_e: 1.5
  frequency_floor: 0.005
  merge_relative: 0.05
  max_observations: 50000
enrich:
  strategy: noop
monitoring:
  log_level: info
  log_format: console
  log_output: stdout
rate_limit:
  enabled: false
`

// ===== LOADING TESTS =====

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "file:test.db", cfg.Database.URL)
	assert.Equal(t, "tokenlens-test/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 30, cfg.CSSStore.TTLDays)
	assert.Equal(t, 16, cfg.Scan.MaxConcurrent)
	assert.Equal(t, int64(900000), cfg.Scan.RevalidateAfterMS)
	assert.Equal(t, int64(86400000), cfg.Scan.HardExpiryMS)
	assert.Equal(t, 15*time.Minute, cfg.Scan.RevalidateAfter())
	assert.Equal(t, 24*time.Hour, cfg.Scan.HardExpiry())
}

func TestEnvExpansionAndOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:/tmp/envdb.sqlite")
	t.Setenv("FETCH_USER_AGENT", "envbot/2.0")
	t.Setenv("CSS_TTL_DAYS", "7")
	t.Setenv("MAX_CONCURRENT_SCANS", "4")
	t.Setenv("REVALIDATE_AFTER_MS", "60000")
	t.Setenv("HARD_EXPIRY_MS", "120000")

	cfg, err := config.LoadFromBytes([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "file:/tmp/envdb.sqlite", cfg.Database.URL)
	assert.Equal(t, "envbot/2.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 7, cfg.CSSStore.TTLDays)
	assert.Equal(t, 4, cfg.Scan.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.Scan.RevalidateAfter())
	assert.Equal(t, 2*time.Minute, cfg.Scan.HardExpiry())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// ===== VALIDATION TESTS =====

func TestValidationFailures(t *testing.T) {
	load := func(t *testing.T, mutate func(*config.Config)) error {
		t.Helper()
		cfg, err := config.LoadFromBytes([]byte(minimalYAML))
		require.NoError(t, err)
		mutate(cfg)
		return cfg.Validate()
	}

	t.Run("missing database url", func(t *testing.T) {
		err := load(t, func(c *config.Config) { c.Database.URL = "" })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.url")
	})

	t.Run("missing user agent", func(t *testing.T) {
		err := load(t, func(c *config.Config) { c.Fetch.UserAgent = "" })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch.user_agent")
	})

	t.Run("port out of range", func(t *testing.T) {
		err := load(t, func(c *config.Config) { c.Server.Port = 70000 })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port")
	})

	t.Run("hard expiry shorter than revalidation", func(t *testing.T) {
		err := load(t, func(c *config.Config) {
			c.Scan.RevalidateAfterMS = 1000
			c.Scan.HardExpiryMS = 500
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hard_expiry_ms")
	})

	t.Run("zero ttl days", func(t *testing.T) {
		err := load(t, func(c *config.Config) { c.CSSStore.TTLDays = 0 })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ttl_days")
	})

	t.Run("retry attempts out of range", func(t *testing.T) {
		err := load(t, func(c *config.Config) { c.Scan.Retry.MaxAttempts = 11 })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_attempts")
	})

	t.Run("llm strategy needs model", func(t *testing.T) {
		err := load(t, func(c *config.Config) {
			c.Enrich.Strategy = config.EnrichLLM
			c.Enrich.Provider = "anthropic"
			c.Enrich.APIKey = "sk-test"
			c.Enrich.MaxTokens = 512
			c.Enrich.BudgetTokens = 4000
			c.Enrich.Timeout = 10 * time.Second
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enrich.model")
	})

	t.Run("cohesion wider than cluster threshold", func(t *testing.T) {
		err := load(t, func(c *config.Config) { c.Analyzer.ColorCohesionDeltaE = 5.0 })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "color_cohesion_delta_e")
	})
}

// ===== RETRY CADENCE TESTS =====

func TestRetryDelayCadence(t *testing.T) {
	r := config.RetryConfig{BaseDelay: 250 * time.Millisecond, MaxAttempts: 3}

	assert.Equal(t, 250*time.Millisecond, r.Delay(1))
	assert.Equal(t, time.Second, r.Delay(2))
	assert.Equal(t, 4*time.Second, r.Delay(3))
}
