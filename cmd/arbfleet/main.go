package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/alejandrodnm/arbfleet/config"
	"github.com/alejandrodnm/arbfleet/internal/adapters/cache"
	"github.com/alejandrodnm/arbfleet/internal/adapters/health"
	"github.com/alejandrodnm/arbfleet/internal/adapters/httpapi"
	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/adapters/notify"
	"github.com/alejandrodnm/arbfleet/internal/adapters/pricefeed"
	"github.com/alejandrodnm/arbfleet/internal/adapters/process"
	"github.com/alejandrodnm/arbfleet/internal/adapters/storage"
	"github.com/alejandrodnm/arbfleet/internal/application/control"
	"github.com/alejandrodnm/arbfleet/internal/application/detector"
	"github.com/alejandrodnm/arbfleet/internal/application/executor"
	"github.com/alejandrodnm/arbfleet/internal/application/pipeline"
	"github.com/alejandrodnm/arbfleet/internal/application/pricing"
	"github.com/alejandrodnm/arbfleet/internal/application/recovery"
	"github.com/alejandrodnm/arbfleet/internal/application/risk"
	"github.com/alejandrodnm/arbfleet/internal/application/supervisor"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "start workers, run one pricing + detection cycle, print the report and exit")
	dryRun := flag.Bool("dry-run", false, "fixture prices, paper venue and in-memory storage")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables (default: compact 1-line)")
	history := flag.Duration("history", 0, "print stored trades of the last period (e.g. 24h) and exit")
	flag.Parse()

	// los flags se aplican antes de validar: -dry-run no necesita RPC ni signer
	var overrides []config.Override
	if *verbose {
		overrides = append(overrides, func(c *config.Config) { c.Log.Level = "debug" })
	}
	if *logFormat != "" {
		overrides = append(overrides, func(c *config.Config) { c.Log.Format = *logFormat })
	}
	if *table {
		overrides = append(overrides, func(c *config.Config) { c.Pipeline.Table = true })
	}
	if *dryRun {
		overrides = append(overrides, config.DryRun)
	}

	cfg, err := config.Load(*configPath, overrides...)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	slog.Info("arbfleet starting",
		"config", *configPath,
		"workers", len(cfg.Workers),
		"symbols", len(cfg.Pricing.Symbols),
		"venues", len(cfg.Pricing.Venues),
		"venue", cfg.Executor.Venue,
		"dry_run", *dryRun,
		"once", *once,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history > 0 {
		if err := printHistory(ctx, store, *history); err != nil {
			slog.Error("history failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, store, *once); err != nil {
		slog.Error("arbfleet exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("arbfleet stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, once bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	alerter := notify.NewAlerter(os.Stdout, store)
	console := notify.NewConsole(cfg.Pipeline.Table)

	// --- supervisión ---
	registry, err := supervisor.NewRegistryFrom(cfg.WorkerDefinitions())
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	sc := cfg.Supervisor
	sup := supervisor.New(supervisor.Config{
		HealthInterval:   config.Seconds(sc.HealthIntervalSeconds),
		FailureThreshold: sc.FailureThreshold,
		TierStagger:      config.Millis(sc.TierStaggerMs),
		StartupProbes:    sc.StartupProbes,
		StartupBackoff:   config.Millis(sc.StartupBackoffMs),
		StopGrace:        config.Seconds(sc.StopGraceSeconds),
		MaxBackoff:       config.Seconds(sc.MaxBackoffSeconds),
	},
		registry,
		process.NewLauncher(sc.LogDir),
		health.NewProber(config.Millis(sc.ProbeTimeoutMs)),
		process.NewSampler(),
		m,
	)
	coord := recovery.New(recovery.Config{
		MaxCPUPercent: cfg.Recovery.MaxCPUPercent,
		MaxMemPercent: cfg.Recovery.MaxMemPercent,
	}, sup, alerter, m)
	sup.SetObserver(coord)

	// --- precios ---
	source, err := buildPriceSource(cfg.Pricing)
	if err != nil {
		return err
	}
	var publisher ports.QuotePublisher
	var mirror *cache.QuoteMirror
	if cfg.Redis.Addr != "" {
		mirror, err = cache.NewQuoteMirror(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, config.Seconds(cfg.Redis.TTLSeconds))
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer mirror.Close()
		publisher = mirror
	}
	pc := cfg.Pricing
	agg := pricing.New(pricing.Config{
		Symbols:         pc.Symbols,
		Venues:          pc.Venues,
		RefreshInterval: config.Seconds(pc.RefreshSeconds),
		TTL:             config.Seconds(pc.TTLSeconds),
		MaxEntries:      pc.MaxEntries,
		Workers:         pc.Workers,
	}, source, publisher, m)

	// --- trading ---
	venue, gasCost, err := buildVenue(ctx, cfg)
	if err != nil {
		return err
	}
	dc := cfg.Detector
	det := detector.New(detector.Config{
		MinSpreadPct:      config.Dec(*dc.MinSpreadPct),
		TopN:              dc.TopN,
		GasCost:           gasCost,
		TradeCeiling:      config.Dec(dc.TradeCeiling),
		LiquidityFraction: config.Dec(dc.LiquidityFraction),
		MinTradeAmount:    config.Dec(dc.MinTradeAmount),
	}, m)

	loc := cfg.Location()
	ledger := executor.NewLedger(loc)
	gate, err := risk.New(cfg.RiskLimits(), ledger, m)
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	exec := executor.New(executor.Config{
		ExecTimeout:   config.Seconds(cfg.Executor.ExecTimeoutSeconds),
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		ArchiveSize:   cfg.Executor.ArchiveSize,
		Location:      loc,
	}, gate, venue, ledger, store, m)

	snapshots, err := storage.NewSnapshotFile(cfg.Storage.SnapshotPath)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	pipe := pipeline.New(pipeline.Config{
		Interval:         config.Seconds(cfg.Pipeline.IntervalSeconds),
		SnapshotInterval: config.Seconds(cfg.Pipeline.SnapshotSeconds),
		Symbols:          pc.Symbols,
		AutoExecute:      cfg.Pipeline.AutoExecute,
		AutoAmount:       config.Dec(cfg.Pipeline.AutoAmount),
	}, agg, det, exec, snapshots)
	if err := pipe.LoadSnapshot(ctx); err != nil {
		// un snapshot corrupto no impide arrancar: se empieza de cero
		slog.Warn("snapshot restore failed", "err", err)
	}

	// --- arranque de la flota ---
	if err := startFleet(ctx, sup); err != nil {
		sup.StopAll()
		return err
	}
	defer sup.StopAll()

	rep := &reporter{sup: sup, pipe: pipe, exec: exec, console: console}

	if once {
		if err := agg.Refresh(ctx); err != nil && !errors.Is(err, pricing.ErrNoQuotes) {
			return err
		}
		pipe.RunCycle(ctx)
		rep.report(ctx)
		return pipe.PersistSnapshot(ctx)
	}

	ctrl := control.New(sup, coord, pipe, exec, gate)
	api := httpapi.NewServer(cfg.API.Addr, ctrl, reg, healthChecks(cfg, sup, agg, mirror))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return coord.Drain(gctx) })
	g.Go(func() error { return agg.Run(gctx) })
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return api.Run(gctx) })
	if cfg.Pipeline.ReportSeconds > 0 {
		g.Go(func() error { return rep.run(gctx, config.Seconds(cfg.Pipeline.ReportSeconds)) })
	}

	slog.Info("arbfleet running — press Ctrl+C to exit", "api", cfg.API.Addr)
	return g.Wait()
}

// startFleet arranca los workers y falla si alguno required no levantó.
func startFleet(ctx context.Context, sup *supervisor.Supervisor) error {
	results := sup.StartAll(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		err := results[name]
		if err == nil {
			continue
		}
		def, _ := sup.Definition(name)
		if def.Required {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("required workers failed to start: %v", failed)
	}
	return nil
}

func buildPriceSource(pc config.PricingConfig) (ports.PriceSource, error) {
	switch pc.Source {
	case "http":
		slog.Info("pricing: http feed", "url", pc.FeedURL, "rate_per_sec", pc.RatePerSec)
		return pricefeed.NewClient(pc.FeedURL, pc.RatePerSec), nil
	case "fixture":
		base := make(map[string]decimal.Decimal, len(pc.Fixture.BasePrices))
		for sym, p := range pc.Fixture.BasePrices {
			base[sym] = config.Dec(p)
		}
		slog.Info("pricing: fixture source", "symbols", len(base), "spread_bps", pc.Fixture.SpreadBps)
		return pricefeed.NewFixture(base, config.Dec(pc.Fixture.Liquidity), pc.Fixture.SpreadBps), nil
	}
	return nil, fmt.Errorf("pricing: unknown source %q", pc.Source)
}

func healthChecks(cfg *config.Config, sup *supervisor.Supervisor, agg *pricing.Aggregator, mirror *cache.QuoteMirror) map[string]httpapi.Check {
	maxAge := 3 * config.Seconds(cfg.Pricing.RefreshSeconds)
	checks := map[string]httpapi.Check{
		"workers": func(context.Context) error {
			var down []string
			for name, st := range sup.Status() {
				def, _ := sup.Definition(name)
				if def.Required && st.Status != domain.WorkerRunning {
					down = append(down, name)
				}
			}
			if len(down) > 0 {
				sort.Strings(down)
				return fmt.Errorf("required workers not running: %v", down)
			}
			return nil
		},
		"prices": func(context.Context) error {
			last := agg.LastRefresh()
			if last.IsZero() {
				return errors.New("no refresh yet")
			}
			if age := time.Since(last); age > maxAge {
				return fmt.Errorf("last refresh %s ago", age.Round(time.Second))
			}
			return nil
		},
	}
	if mirror != nil {
		checks["redis"] = mirror.Ping
	}
	return checks
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
