package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalid agrupa todos los errores de validación.
var ErrInvalid = errors.New("invalid config")

// Config es la configuración completa de arbfleet.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Workers    []WorkerConfig   `yaml:"workers"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Detector   DetectorConfig   `yaml:"detector"`
	Risk       RiskConfig       `yaml:"risk"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// SupervisorConfig controla el ciclo de vida de los workers.
type SupervisorConfig struct {
	HealthIntervalSeconds int    `yaml:"health_interval_seconds"`
	FailureThreshold      int    `yaml:"failure_threshold"`
	TierStaggerMs         int    `yaml:"tier_stagger_ms"`
	StartupProbes         int    `yaml:"startup_probes"`
	StartupBackoffMs      int    `yaml:"startup_backoff_ms"`
	StopGraceSeconds      int    `yaml:"stop_grace_seconds"`
	MaxBackoffSeconds     int    `yaml:"max_backoff_seconds"`
	ProbeTimeoutMs        int    `yaml:"probe_timeout_ms"`
	LogDir                string `yaml:"log_dir"` // stdout/stderr de los workers; vacío = heredado
}

// RecoveryConfig son los umbrales de recursos que disparan un restart.
type RecoveryConfig struct {
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	MaxMemPercent float64 `yaml:"max_mem_percent"`
}

// WorkerConfig declara un worker de la flota.
type WorkerConfig struct {
	Name        string            `yaml:"name"`
	Category    string            `yaml:"category"`
	Priority    int               `yaml:"priority"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	Dir         string            `yaml:"dir"`
	Address     string            `yaml:"address"`
	HealthPath  string            `yaml:"health_path"`
	Required    bool              `yaml:"required"`
	MaxRestarts int               `yaml:"max_restarts"`
	BackoffMs   int               `yaml:"backoff_ms"`
}

// PricingConfig controla el agregador de precios.
type PricingConfig struct {
	Symbols        []string      `yaml:"symbols"`
	Venues         []string      `yaml:"venues"`
	RefreshSeconds int           `yaml:"refresh_seconds"`
	TTLSeconds     int           `yaml:"ttl_seconds"`
	MaxEntries     int           `yaml:"max_entries"`
	Workers        int           `yaml:"workers"`
	Source         string        `yaml:"source"` // http | fixture
	FeedURL        string        `yaml:"feed_url"`
	RatePerSec     float64       `yaml:"rate_per_sec"`
	Fixture        FixtureConfig `yaml:"fixture"`
}

// FixtureConfig configura la fuente de precios determinista.
type FixtureConfig struct {
	BasePrices map[string]float64 `yaml:"base_prices"`
	Liquidity  float64            `yaml:"liquidity"`
	SpreadBps  int64              `yaml:"spread_bps"`
}

// DetectorConfig controla la detección de oportunidades.
type DetectorConfig struct {
	MinSpreadPct      *float64 `yaml:"min_spread_pct"` // nil → 0.1; 0 acepta cualquier spread positivo
	TopN              int      `yaml:"top_n"`
	GasCost           float64  `yaml:"gas_cost"`
	TradeCeiling      float64  `yaml:"trade_ceiling"`
	LiquidityFraction float64  `yaml:"liquidity_fraction"`
	MinTradeAmount    float64  `yaml:"min_trade_amount"`
}

// RiskConfig son los límites iniciales del RiskGate.
type RiskConfig struct {
	MaxTradeNotional   float64 `yaml:"max_trade_notional"`
	MaxDailyTrades     int     `yaml:"max_daily_trades"`
	MaxDailyLoss       float64 `yaml:"max_daily_loss"`
	MinProfitMarginPct float64 `yaml:"min_profit_margin_pct"`
	MaxSlippagePct     float64 `yaml:"max_slippage_pct"`
}

// ExecutorConfig controla la ejecución de trades.
type ExecutorConfig struct {
	Venue              string      `yaml:"venue"` // paper | chain
	ExecTimeoutSeconds int         `yaml:"exec_timeout_seconds"`
	MaxConcurrent      int64       `yaml:"max_concurrent"`
	ArchiveSize        int         `yaml:"archive_size"`
	Timezone           string      `yaml:"timezone"` // IANA; define el día natural
	Paper              PaperConfig `yaml:"paper"`
	Chain              ChainConfig `yaml:"chain"`
}

// PaperConfig configura el venue simulado.
type PaperConfig struct {
	GasCost     float64 `yaml:"gas_cost"`
	SlippageBps int64   `yaml:"slippage_bps"`
	LatencyMs   int     `yaml:"latency_ms"`
}

// ChainConfig configura el venue on-chain.
type ChainConfig struct {
	RPCURL                string  `yaml:"rpc_url"`
	SignerURL             string  `yaml:"signer_url"`
	SignerToken           string  `yaml:"-"` // solo por env
	WalletAddress         string  `yaml:"wallet_address"`
	NativePrice           float64 `yaml:"native_price"`
	MinBalanceWei         string  `yaml:"min_balance_wei"`
	ReceiptTimeoutSeconds int     `yaml:"receipt_timeout_seconds"`
}

// PipelineConfig controla el loop de detección y el reporte.
type PipelineConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	SnapshotSeconds int     `yaml:"snapshot_seconds"`
	AutoExecute     bool    `yaml:"auto_execute"`
	AutoAmount      float64 `yaml:"auto_amount"`
	ReportSeconds   int     `yaml:"report_seconds"` // 0 = sin reporte en consola
	Table           bool    `yaml:"table"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN          string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
	SnapshotPath string `yaml:"snapshot_path"`
}

// RedisConfig configura la réplica de cotizaciones. Addr vacío = desactivada.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"-"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// APIConfig configura el servidor HTTP de control.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Override modifica la configuración antes de aplicar defaults y validar.
// Se usa para los flags de la línea de comandos.
type Override func(*Config)

// DryRun fuerza precios de fixture, venue paper, SQLite en memoria y sin Redis.
func DryRun(cfg *Config) {
	cfg.Pricing.Source = "fixture"
	cfg.Executor.Venue = "paper"
	cfg.Storage.DSN = ":memory:"
	cfg.Redis.Addr = ""
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML y los overrides
// sobreescriben a ambos.
func Load(path string, overrides ...Override) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data, overrides...)
}

// Parse decodifica YAML, aplica env, overrides y defaults, y valida.
func Parse(data []byte, overrides ...Override) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	for _, o := range overrides {
		o(&cfg)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ARBFLEET_RPC_URL"); v != "" {
		cfg.Executor.Chain.RPCURL = v
	}
	if v := os.Getenv("ARBFLEET_SIGNER_URL"); v != "" {
		cfg.Executor.Chain.SignerURL = v
	}
	if v := os.Getenv("ARBFLEET_SIGNER_TOKEN"); v != "" {
		cfg.Executor.Chain.SignerToken = v
	}
	if v := os.Getenv("ARBFLEET_WALLET_ADDRESS"); v != "" {
		cfg.Executor.Chain.WalletAddress = v
	}
	if v := os.Getenv("ARBFLEET_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ARBFLEET_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ARBFLEET_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	s := &cfg.Supervisor
	if s.HealthIntervalSeconds <= 0 {
		s.HealthIntervalSeconds = 30
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 3
	}
	if s.TierStaggerMs <= 0 {
		s.TierStaggerMs = 5000
	}
	if s.StartupProbes <= 0 {
		s.StartupProbes = 3
	}
	if s.StartupBackoffMs <= 0 {
		s.StartupBackoffMs = 500
	}
	if s.StopGraceSeconds <= 0 {
		s.StopGraceSeconds = 10
	}
	if s.MaxBackoffSeconds <= 0 {
		s.MaxBackoffSeconds = 300
	}
	if s.ProbeTimeoutMs <= 0 {
		s.ProbeTimeoutMs = 5000
	}

	if cfg.Recovery.MaxCPUPercent <= 0 {
		cfg.Recovery.MaxCPUPercent = 90
	}
	if cfg.Recovery.MaxMemPercent <= 0 {
		cfg.Recovery.MaxMemPercent = 90
	}

	for i := range cfg.Workers {
		w := &cfg.Workers[i]
		if w.Category == "" {
			w.Category = string(domain.CategoryMonitoring)
		}
		if w.HealthPath == "" {
			w.HealthPath = "/health"
		}
		if w.BackoffMs <= 0 {
			w.BackoffMs = 1000
		}
	}

	p := &cfg.Pricing
	if p.RefreshSeconds <= 0 {
		p.RefreshSeconds = 5
	}
	if p.TTLSeconds <= 0 {
		p.TTLSeconds = 30
	}
	if p.MaxEntries <= 0 {
		p.MaxEntries = 1000
	}
	if p.Source == "" {
		p.Source = "fixture"
	}
	if p.Fixture.Liquidity <= 0 {
		p.Fixture.Liquidity = 50000
	}

	if cfg.Detector.MinSpreadPct == nil {
		minSpread := 0.1
		cfg.Detector.MinSpreadPct = &minSpread
	}
	if cfg.Detector.TopN <= 0 {
		cfg.Detector.TopN = 20
	}
	if cfg.Detector.TradeCeiling <= 0 {
		cfg.Detector.TradeCeiling = 10000
	}
	if cfg.Detector.LiquidityFraction <= 0 {
		cfg.Detector.LiquidityFraction = 0.10
	}
	if cfg.Detector.MinTradeAmount <= 0 {
		cfg.Detector.MinTradeAmount = 10
	}

	if cfg.Risk.MaxTradeNotional <= 0 {
		cfg.Risk.MaxTradeNotional = 10000
	}
	if cfg.Risk.MaxDailyTrades <= 0 {
		cfg.Risk.MaxDailyTrades = 100
	}

	e := &cfg.Executor
	if e.Venue == "" {
		e.Venue = "paper"
	}
	if e.ExecTimeoutSeconds <= 0 {
		e.ExecTimeoutSeconds = 45
	}
	if e.MaxConcurrent <= 0 {
		e.MaxConcurrent = 4
	}
	if e.ArchiveSize <= 0 {
		e.ArchiveSize = 1000
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	if e.Chain.ReceiptTimeoutSeconds <= 0 {
		e.Chain.ReceiptTimeoutSeconds = 60
	}

	if cfg.Pipeline.IntervalSeconds <= 0 {
		cfg.Pipeline.IntervalSeconds = 5
	}
	if cfg.Pipeline.SnapshotSeconds <= 0 {
		cfg.Pipeline.SnapshotSeconds = 60
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "arbfleet.db"
	}
	if cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = "data/snapshot.json"
	}
	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 60
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = "127.0.0.1:8080"
	}
}

// Validate comprueba los valores que no tienen default razonable.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Workers))
	for _, def := range c.WorkerDefinitions() {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%w: workers: %w", ErrInvalid, err)
		}
		if seen[def.Name] {
			return fmt.Errorf("%w: workers: duplicate name %q", ErrInvalid, def.Name)
		}
		seen[def.Name] = true
	}

	if len(c.Pricing.Symbols) == 0 {
		return fmt.Errorf("%w: pricing.symbols is empty", ErrInvalid)
	}
	if len(c.Pricing.Venues) < 2 {
		return fmt.Errorf("%w: pricing.venues needs at least two venues", ErrInvalid)
	}
	switch c.Pricing.Source {
	case "http":
		if c.Pricing.FeedURL == "" {
			return fmt.Errorf("%w: pricing.feed_url is required for source http", ErrInvalid)
		}
	case "fixture":
		for _, s := range c.Pricing.Symbols {
			if c.Pricing.Fixture.BasePrices[s] <= 0 {
				return fmt.Errorf("%w: pricing.fixture.base_prices has no price for %q", ErrInvalid, s)
			}
		}
	default:
		return fmt.Errorf("%w: pricing.source must be http or fixture, got %q", ErrInvalid, c.Pricing.Source)
	}

	if m := c.Detector.MinSpreadPct; m != nil && *m < 0 {
		return fmt.Errorf("%w: detector.min_spread_pct must be >= 0", ErrInvalid)
	}

	if err := c.RiskLimits().Validate(); err != nil {
		return fmt.Errorf("%w: risk: %w", ErrInvalid, err)
	}

	if _, err := time.LoadLocation(c.Executor.Timezone); err != nil {
		return fmt.Errorf("%w: executor.timezone: %w", ErrInvalid, err)
	}
	switch c.Executor.Venue {
	case "paper":
	case "chain":
		ch := c.Executor.Chain
		switch {
		case ch.RPCURL == "":
			return fmt.Errorf("%w: executor.chain.rpc_url (or ARBFLEET_RPC_URL) is required", ErrInvalid)
		case ch.SignerURL == "":
			return fmt.Errorf("%w: executor.chain.signer_url is required", ErrInvalid)
		case ch.WalletAddress == "":
			return fmt.Errorf("%w: executor.chain.wallet_address is required", ErrInvalid)
		case ch.NativePrice <= 0:
			return fmt.Errorf("%w: executor.chain.native_price must be > 0", ErrInvalid)
		}
		if _, err := c.MinBalanceWei(); err != nil {
			return fmt.Errorf("%w: executor.chain.min_balance_wei: %w", ErrInvalid, err)
		}
	default:
		return fmt.Errorf("%w: executor.venue must be paper or chain, got %q", ErrInvalid, c.Executor.Venue)
	}

	if c.Pipeline.AutoExecute && c.Pipeline.AutoAmount < 0 {
		return fmt.Errorf("%w: pipeline.auto_amount must be >= 0", ErrInvalid)
	}
	return nil
}

// --- conversiones ---

// Seconds convierte un entero de segundos en time.Duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis convierte un entero de milisegundos en time.Duration.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Dec convierte un float de configuración a decimal.
func Dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// WorkerDefinitions convierte la lista de workers a definiciones de dominio.
func (c *Config) WorkerDefinitions() []domain.WorkerDefinition {
	defs := make([]domain.WorkerDefinition, 0, len(c.Workers))
	for _, w := range c.Workers {
		defs = append(defs, domain.WorkerDefinition{
			Name:     w.Name,
			Category: domain.WorkerCategory(w.Category),
			Priority: w.Priority,
			Launch: domain.LaunchSpec{
				Command: w.Command,
				Args:    w.Args,
				Env:     w.Env,
				Dir:     w.Dir,
			},
			Address:    w.Address,
			HealthPath: w.HealthPath,
			Required:   w.Required,
			Restart: domain.RestartPolicy{
				MaxRestarts: w.MaxRestarts,
				Backoff:     Millis(w.BackoffMs),
			},
		})
	}
	return defs
}

// RiskLimits devuelve los límites iniciales del RiskGate.
func (c *Config) RiskLimits() domain.RiskLimits {
	r := c.Risk
	return domain.RiskLimits{
		MaxTradeNotional:   Dec(r.MaxTradeNotional),
		MaxDailyTrades:     r.MaxDailyTrades,
		MaxDailyLoss:       Dec(r.MaxDailyLoss),
		MinProfitMarginPct: Dec(r.MinProfitMarginPct),
		MaxSlippagePct:     Dec(r.MaxSlippagePct),
	}
}

// Location devuelve la zona del día natural. Validate garantiza que es válida.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Executor.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MinBalanceWei parsea el balance mínimo; vacío = sin mínimo.
func (c *Config) MinBalanceWei() (*big.Int, error) {
	raw := c.Executor.Chain.MinBalanceWei
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative integer: %s", strconv.Quote(raw))
	}
	return v, nil
}
