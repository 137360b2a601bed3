package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
workers:
  - name: price-feed
    category: pricing
    priority: 1
    command: ./bin/price-feed
    address: 127.0.0.1:9101
    required: true
    max_restarts: 5
pricing:
  symbols: [WMATIC/USDC]
  venues: [quickswap, sushiswap]
  fixture:
    base_prices:
      WMATIC/USDC: 0.85
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 30, cfg.Supervisor.HealthIntervalSeconds)
	assert.Equal(t, 3, cfg.Supervisor.FailureThreshold)
	assert.Equal(t, "fixture", cfg.Pricing.Source)
	assert.Equal(t, "paper", cfg.Executor.Venue)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Addr)
	assert.Equal(t, 45*time.Second, Seconds(cfg.Executor.ExecTimeoutSeconds))
	require.NotNil(t, cfg.Detector.MinSpreadPct)
	assert.Equal(t, 0.1, *cfg.Detector.MinSpreadPct)
	assert.Equal(t, 20, cfg.Detector.TopN)

	limits := cfg.RiskLimits()
	assert.Equal(t, "10000", limits.MaxTradeNotional.String())
	assert.Equal(t, 100, limits.MaxDailyTrades)
	assert.True(t, limits.MaxDailyLoss.IsZero())
}

func TestWorkerDefinitions(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	defs := cfg.WorkerDefinitions()
	require.Len(t, defs, 1)
	d := defs[0]
	assert.Equal(t, "price-feed", d.Name)
	assert.Equal(t, domain.CategoryPricing, d.Category)
	assert.Equal(t, "./bin/price-feed", d.Launch.Command)
	assert.Equal(t, "/health", d.HealthPath)
	assert.True(t, d.Required)
	assert.Equal(t, 5, d.Restart.MaxRestarts)
	assert.Equal(t, time.Second, d.Restart.Backoff)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ARBFLEET_API_ADDR", "0.0.0.0:9999")
	t.Setenv("ARBFLEET_REDIS_ADDR", "redis:6379")
	t.Setenv("ARBFLEET_SIGNER_TOKEN", "s3cret")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:9999", cfg.API.Addr)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Executor.Chain.SignerToken)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"duplicate worker": `
workers:
  - name: feed
    command: ./a
    address: 127.0.0.1:1
  - name: feed
    command: ./b
    address: 127.0.0.1:2
pricing:
  symbols: [WMATIC/USDC]
  venues: [quickswap, sushiswap]
  fixture:
    base_prices:
      WMATIC/USDC: 0.85
`,
		"worker without address": `
workers:
  - name: feed
    command: ./a
pricing:
  symbols: [WMATIC/USDC]
  venues: [quickswap, sushiswap]
  fixture:
    base_prices:
      WMATIC/USDC: 0.85
`,
		"one venue": `
pricing:
  symbols: [WMATIC/USDC]
  venues: [quickswap]
`,
		"fixture without price": `
pricing:
  symbols: [WETH/USDC]
  venues: [quickswap, sushiswap]
`,
		"http without url": `
pricing:
  symbols: [WETH/USDC]
  venues: [quickswap, sushiswap]
  source: http
`,
		"chain without rpc": minimalYAML + `
executor:
  venue: chain
`,
		"bad timezone": minimalYAML + `
executor:
  timezone: Mars/Olympus
`,
		"negative min spread": minimalYAML + `
detector:
  min_spread_pct: -1
`,
		"bad slippage": minimalYAML + `
risk:
  max_slippage_pct: 150
`,
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(yml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_DryRunBeforeValidation(t *testing.T) {
	yml := minimalYAML + `
executor:
  venue: chain
redis:
  addr: redis:6379
storage:
  dsn: /var/lib/arbfleet/trades.db
`
	_, err := Parse([]byte(yml))
	require.ErrorIs(t, err, ErrInvalid, "chain venue without rpc_url")

	debug := func(c *Config) { c.Log.Level = "debug" }
	cfg, err := Parse([]byte(yml), DryRun, debug)
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Executor.Venue)
	assert.Equal(t, "fixture", cfg.Pricing.Source)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_ExplicitZeroMinSpread(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
detector:
  min_spread_pct: 0
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Detector.MinSpreadPct)
	assert.Zero(t, *cfg.Detector.MinSpreadPct)
}

func TestMinBalanceWei(t *testing.T) {
	cfg := &Config{}
	v, err := cfg.MinBalanceWei()
	require.NoError(t, err)
	assert.Nil(t, v)

	cfg.Executor.Chain.MinBalanceWei = "1000000000000000000"
	v, err = cfg.MinBalanceWei()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", v.String())

	cfg.Executor.Chain.MinBalanceWei = "-1"
	_, err = cfg.MinBalanceWei()
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Workers, 4)
	assert.Equal(t, "UTC", cfg.Location().String())
	assert.Equal(t, "fixture", cfg.Pricing.Source)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
