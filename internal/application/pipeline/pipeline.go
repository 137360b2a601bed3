// Package pipeline conecta precios → detección → (opcional) ejecución en un loop
// periódico, y persiste el snapshot de trading.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
	"github.com/shopspring/decimal"
)

// QuoteSnapshotter devuelve la vista de precios actual.
type QuoteSnapshotter interface {
	Snapshot(symbols []string) domain.Snapshot
}

// CandidateDetector produce candidatos rankeados a partir de un snapshot.
type CandidateDetector interface {
	Detect(snap domain.Snapshot) []domain.ArbitrageCandidate
}

// TradeRunner es la parte del executor que usa el pipeline.
type TradeRunner interface {
	Submit(ctx context.Context, c domain.ArbitrageCandidate, amount decimal.Decimal) (domain.TradeOrder, error)
	Execute(ctx context.Context, id string) (domain.TradeOrder, error)
	Snapshot() domain.TradeSnapshot
	Restore(ctx context.Context, snap domain.TradeSnapshot)
}

// Config contiene la configuración del pipeline.
type Config struct {
	Interval         time.Duration
	SnapshotInterval time.Duration
	Symbols          []string        // vacío = todos los de la caché
	AutoExecute      bool            // envía y ejecuta el mejor candidato de cada ciclo
	AutoAmount       decimal.Decimal // tamaño de los trades automáticos (acotado por el notional estimado)
}

// Pipeline guarda el último ranking de candidatos.
type Pipeline struct {
	cfg       Config
	prices    QuoteSnapshotter
	detector  CandidateDetector
	trades    TradeRunner
	snapshots ports.SnapshotStore

	mu        sync.RWMutex
	latest    []domain.ArbitrageCandidate
	lastCycle time.Time

	now func() time.Time
}

// New crea un Pipeline. snapshots puede ser nil (sin persistencia).
func New(cfg Config, prices QuoteSnapshotter, detector CandidateDetector, trades TradeRunner, snapshots ports.SnapshotStore) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	return &Pipeline{
		cfg:       cfg,
		prices:    prices,
		detector:  detector,
		trades:    trades,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Interval devuelve el periodo del ciclo de detección.
func (p *Pipeline) Interval() time.Duration { return p.cfg.Interval }

// Run ejecuta ciclos de detección y guarda snapshots hasta que se cancele el
// contexto. Al salir persiste un último snapshot.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("pipeline: starting",
		"interval", p.cfg.Interval,
		"snapshot_interval", p.cfg.SnapshotInterval,
		"auto_execute", p.cfg.AutoExecute,
	)

	cycle := time.NewTicker(p.cfg.Interval)
	defer cycle.Stop()
	persist := time.NewTicker(p.cfg.SnapshotInterval)
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.PersistSnapshot(context.WithoutCancel(ctx)); err != nil {
				slog.Error("pipeline: final snapshot failed", "err", err)
			}
			slog.Info("pipeline: stopped")
			return nil
		case <-cycle.C:
			p.RunCycle(ctx)
		case <-persist.C:
			if err := p.PersistSnapshot(ctx); err != nil {
				slog.Warn("pipeline: snapshot failed", "err", err)
			}
		}
	}
}

// RunCycle recalcula los candidatos y, si está activado, ejecuta el mejor.
func (p *Pipeline) RunCycle(ctx context.Context) []domain.ArbitrageCandidate {
	snap := p.prices.Snapshot(p.cfg.Symbols)
	cands := p.detector.Detect(snap)

	p.mu.Lock()
	p.latest = cands
	p.lastCycle = p.now()
	p.mu.Unlock()

	if len(cands) > 0 {
		best := cands[0]
		slog.Debug("pipeline: cycle complete",
			"quotes", snap.Len(),
			"candidates", len(cands),
			"best_symbol", best.SymbolPair,
			"best_spread_pct", best.SpreadPct.StringFixed(3),
		)
	}

	if p.cfg.AutoExecute && len(cands) > 0 {
		p.autoExecute(ctx, cands[0])
	}
	return cands
}

func (p *Pipeline) autoExecute(ctx context.Context, c domain.ArbitrageCandidate) {
	amount := p.cfg.AutoAmount
	if amount.IsZero() || amount.GreaterThan(c.EstimatedNotional.Max) {
		amount = c.EstimatedNotional.Max
	}
	order, err := p.trades.Submit(ctx, c, amount)
	if err != nil {
		slog.Info("pipeline: auto trade not submitted", "symbol", c.SymbolPair, "reason", err)
		return
	}
	if _, err := p.trades.Execute(ctx, order.ID); err != nil {
		slog.Warn("pipeline: auto trade execute failed", "id", order.ID, "err", err)
	}
}

// Opportunities devuelve el último ranking y cuándo se calculó.
func (p *Pipeline) Opportunities() ([]domain.ArbitrageCandidate, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.ArbitrageCandidate(nil), p.latest...), p.lastCycle
}

// Best devuelve el mejor candidato actual para un símbolo.
func (p *Pipeline) Best(symbol string) (domain.ArbitrageCandidate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.latest {
		if c.SymbolPair == symbol {
			return c, true
		}
	}
	return domain.ArbitrageCandidate{}, false
}

// PersistSnapshot guarda el estado del executor.
func (p *Pipeline) PersistSnapshot(ctx context.Context) error {
	if p.snapshots == nil {
		return nil
	}
	snap := p.trades.Snapshot()
	if err := p.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("pipeline.PersistSnapshot: %w", err)
	}
	slog.Debug("pipeline: snapshot saved",
		"active", len(snap.ActiveTrades), "archived", len(snap.ArchivedTrades))
	return nil
}

// LoadSnapshot restaura el executor desde el último snapshot, si existe.
func (p *Pipeline) LoadSnapshot(ctx context.Context) error {
	if p.snapshots == nil {
		return nil
	}
	snap, ok, err := p.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("pipeline.LoadSnapshot: %w", err)
	}
	if !ok {
		slog.Info("pipeline: no previous snapshot")
		return nil
	}
	p.trades.Restore(ctx, snap)
	return nil
}
