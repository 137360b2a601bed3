// Package executor lleva cada TradeOrder por su máquina de estados:
//
//	PENDING → EXECUTING → COMPLETED | FAILED
//	PENDING → CANCELLED
//
// Las órdenes terminales pasan del índice activo al archivo acotado y alimentan
// las estadísticas y el ledger diario que consulta el RiskGate.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/application/risk"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotCancellable = errors.New("only pending orders can be cancelled")
)

// Motivos de fallo que no vienen del venue.
const (
	ReasonTimeout     = "execution timeout"
	ReasonInterrupted = "interrupted"
)

var hundred = decimal.NewFromInt(100)

// Authorizer es la parte del RiskGate que usa el executor.
type Authorizer interface {
	CheckAt(c domain.ArbitrageCandidate, amount decimal.Decimal, at time.Time) *risk.Rejection
	Limits() domain.RiskLimits
}

// Config contiene la configuración del executor.
type Config struct {
	ExecTimeout   time.Duration  // tope por llamada al venue, por defecto 45s
	MaxConcurrent int64          // ejecuciones simultáneas, por defecto 4
	ArchiveSize   int            // órdenes terminales retenidas, por defecto 1000
	HourlyBuckets int            // por defecto 48
	DailyBuckets  int            // por defecto 30
	Location      *time.Location // zona del día natural, UTC por defecto
}

// Executor es dueño de los índices activo y de archivo.
type Executor struct {
	cfg     Config
	gate    Authorizer
	venue   ports.ExecutionVenue
	ledger  *Ledger
	store   ports.TradeStore
	metrics *metrics.Metrics
	sem     *semaphore.Weighted

	mu      sync.Mutex
	active  map[string]*domain.TradeOrder
	archive []domain.TradeOrder // más antiguas primero
	stats   *statsBook

	now func() time.Time
}

// New crea un Executor. store y m pueden ser nil.
func New(
	cfg Config,
	gate Authorizer,
	venue ports.ExecutionVenue,
	ledger *Ledger,
	store ports.TradeStore,
	m *metrics.Metrics,
) *Executor {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 45 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ArchiveSize <= 0 {
		cfg.ArchiveSize = 1000
	}
	if cfg.HourlyBuckets <= 0 {
		cfg.HourlyBuckets = 48
	}
	if cfg.DailyBuckets <= 0 {
		cfg.DailyBuckets = 30
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if ledger == nil {
		ledger = NewLedger(cfg.Location)
	}
	return &Executor{
		cfg:     cfg,
		gate:    gate,
		venue:   venue,
		ledger:  ledger,
		store:   store,
		metrics: m,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		active:  make(map[string]*domain.TradeOrder),
		stats:   newStatsBook(cfg.Location, cfg.HourlyBuckets, cfg.DailyBuckets),
		now:     time.Now,
	}
}

// Submit crea una orden PENDING si el RiskGate la aprueba. Si no, devuelve un
// *risk.Rejection y no se crea nada.
func (e *Executor) Submit(ctx context.Context, c domain.ArbitrageCandidate, amount decimal.Decimal) (domain.TradeOrder, error) {
	if rej := e.gate.CheckAt(c, amount, e.now()); rej != nil {
		return domain.TradeOrder{}, rej
	}

	slippage := e.gate.Limits().MaxSlippagePct
	order := domain.TradeOrder{
		ID:             uuid.NewString(),
		SymbolPair:     c.SymbolPair,
		Amount:         amount,
		BuyVenue:       c.BuyVenue,
		SellVenue:      c.SellVenue,
		BuyPrice:       c.BuyPrice,
		SellPrice:      c.SellPrice,
		MinSellPrice:   c.SellPrice.Mul(decimal.NewFromInt(1).Sub(slippage.Div(hundred))),
		ExpectedProfit: c.ExpectedProfit(amount),
		Status:         domain.TradePending,
		CreatedAt:      e.now(),
	}

	e.mu.Lock()
	cp := order
	e.active[order.ID] = &cp
	e.mu.Unlock()

	slog.Info("executor: order submitted",
		"id", order.ID,
		"symbol", order.SymbolPair,
		"venues", order.VenuePair(),
		"amount", order.Amount,
		"expected_profit", order.ExpectedProfit,
	)
	return order, nil
}

// Execute lleva una orden PENDING hasta un estado terminal. Un fallo del venue
// no es un error de Execute: queda registrado en la orden como FAILED.
func (e *Executor) Execute(ctx context.Context, id string) (domain.TradeOrder, error) {
	e.mu.Lock()
	o, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return domain.TradeOrder{}, fmt.Errorf("executor.Execute: %w: %s", ErrOrderNotFound, id)
	}
	if err := o.Transition(domain.TradeExecuting); err != nil {
		e.mu.Unlock()
		return domain.TradeOrder{}, fmt.Errorf("executor.Execute: %w", err)
	}
	order := *o
	e.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.finish(ctx, id, domain.ExecutionReceipt{}, fmt.Errorf("waiting for execution slot: %w", err), false), nil
	}
	defer e.sem.Release(1)

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := e.venue.Execute(execCtx, order)
	if e.metrics != nil {
		e.metrics.TradeLatency.Observe(time.Since(start).Seconds())
	}

	timedOut := err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	return e.finish(ctx, id, receipt, err, timedOut), nil
}

// finish aplica el resultado del venue y archiva la orden.
func (e *Executor) finish(ctx context.Context, id string, r domain.ExecutionReceipt, execErr error, timedOut bool) domain.TradeOrder {
	now := e.now()

	e.mu.Lock()
	o, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return domain.TradeOrder{}
	}
	o.ExecutedAt = &now
	o.TxReference = r.TxReference
	o.GasUsed = r.GasUsed

	if execErr == nil {
		profit := r.ActualProfit
		o.ActualProfit = &profit
		_ = o.Transition(domain.TradeCompleted)
	} else {
		switch {
		case timedOut:
			o.FailureReason = ReasonTimeout
		default:
			o.FailureReason = execErr.Error()
		}
		// Una tx revertida también paga gas
		if r.GasCost.IsPositive() {
			loss := r.GasCost.Neg()
			o.ActualProfit = &loss
		}
		_ = o.Transition(domain.TradeFailed)
	}
	final := e.archiveLocked(o, now)
	e.mu.Unlock()

	e.afterTerminal(ctx, final)
	return final
}

// Cancel cancela una orden que sigue PENDING.
func (e *Executor) Cancel(ctx context.Context, id string) (domain.TradeOrder, error) {
	now := e.now()

	e.mu.Lock()
	o, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return domain.TradeOrder{}, fmt.Errorf("executor.Cancel: %w: %s", ErrOrderNotFound, id)
	}
	if o.Status != domain.TradePending {
		status := o.Status
		e.mu.Unlock()
		return domain.TradeOrder{}, fmt.Errorf("executor.Cancel: %w (status %s)", ErrNotCancellable, status)
	}
	_ = o.Transition(domain.TradeCancelled)
	final := e.archiveLocked(o, now)
	e.mu.Unlock()

	e.afterTerminal(ctx, final)
	return final, nil
}

// archiveLocked mueve una orden terminal al archivo y actualiza stats y ledger.
func (e *Executor) archiveLocked(o *domain.TradeOrder, at time.Time) domain.TradeOrder {
	final := *o
	delete(e.active, final.ID)
	e.archive = append(e.archive, final)
	if over := len(e.archive) - e.cfg.ArchiveSize; over > 0 {
		e.archive = append([]domain.TradeOrder(nil), e.archive[over:]...)
	}
	e.stats.record(final, at)
	e.ledger.Record(final, at)
	return final
}

// afterTerminal hace el trabajo fuera del lock: log, métricas y persistencia best-effort.
func (e *Executor) afterTerminal(ctx context.Context, o domain.TradeOrder) {
	attrs := []any{
		"id", o.ID,
		"symbol", o.SymbolPair,
		"status", o.Status,
		"profit", o.RealizedProfit(),
	}
	if o.Status == domain.TradeFailed {
		slog.Warn("executor: order failed", append(attrs, "reason", o.FailureReason)...)
	} else {
		slog.Info("executor: order finished", attrs...)
	}

	if e.metrics != nil {
		e.metrics.Trades.WithLabelValues(string(o.Status)).Inc()
		if p := o.RealizedProfit(); p.IsPositive() {
			f, _ := p.Float64()
			e.metrics.TradeProfit.Add(f)
		}
	}

	if e.store != nil {
		if err := e.store.SaveOrder(context.WithoutCancel(ctx), o); err != nil {
			slog.Warn("executor: persist order failed", "id", o.ID, "err", err)
		}
	}
}

// Order devuelve una orden activa o archivada.
func (e *Executor) Order(id string) (domain.TradeOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.active[id]; ok {
		return *o, true
	}
	for i := len(e.archive) - 1; i >= 0; i-- {
		if e.archive[i].ID == id {
			return e.archive[i], true
		}
	}
	return domain.TradeOrder{}, false
}

// Active devuelve las órdenes no terminales, más antiguas primero.
func (e *Executor) Active() []domain.TradeOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

func (e *Executor) activeLocked() []domain.TradeOrder {
	out := make([]domain.TradeOrder, 0, len(e.active))
	for _, o := range e.active {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Archived devuelve las órdenes terminales retenidas, más recientes primero.
func (e *Executor) Archived() []domain.TradeOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TradeOrder, len(e.archive))
	for i, o := range e.archive {
		out[len(e.archive)-1-i] = o
	}
	return out
}

// Trades devuelve activas seguidas de archivadas.
func (e *Executor) Trades() []domain.TradeOrder {
	return append(e.Active(), e.Archived()...)
}

// Stats devuelve las estadísticas acumuladas.
func (e *Executor) Stats() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.report()
}

// Daily devuelve los contadores del día natural de now.
func (e *Executor) Daily(now time.Time) domain.DailyTotals {
	return e.ledger.Daily(now)
}

// Snapshot exporta el estado para persistirlo.
func (e *Executor) Snapshot() domain.TradeSnapshot {
	now := e.now()
	ledger := e.ledger.Daily(now)

	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.TradeSnapshot{
		SavedAt:        now,
		ActiveTrades:   e.activeLocked(),
		ArchivedTrades: append([]domain.TradeOrder(nil), e.archive...),
		Stats:          e.stats.overall,
		SymbolStats:    copyGroups(e.stats.bySymbol),
		VenuePairStats: copyGroups(e.stats.byVenue),
		Hourly:         copyGroups(e.stats.hourly),
		Daily:          copyGroups(e.stats.daily),
		Ledger:         ledger,
	}
}

// Restore carga un snapshot al arrancar. Las órdenes que estaban EXECUTING no
// tienen resultado conocido: se cierran como FAILED "interrupted".
func (e *Executor) Restore(ctx context.Context, snap domain.TradeSnapshot) {
	now := e.now()
	e.ledger.Restore(snap.Ledger)

	var interrupted []domain.TradeOrder
	e.mu.Lock()
	e.stats.load(snap)
	e.archive = append([]domain.TradeOrder(nil), snap.ArchivedTrades...)
	if over := len(e.archive) - e.cfg.ArchiveSize; over > 0 {
		e.archive = e.archive[over:]
	}
	e.active = make(map[string]*domain.TradeOrder, len(snap.ActiveTrades))
	for _, o := range snap.ActiveTrades {
		cp := o
		e.active[cp.ID] = &cp
		if cp.Status == domain.TradeExecuting {
			p := e.active[cp.ID]
			p.FailureReason = ReasonInterrupted
			_ = p.Transition(domain.TradeFailed)
			interrupted = append(interrupted, e.archiveLocked(p, now))
		}
	}
	active := len(e.active)
	e.mu.Unlock()

	for _, o := range interrupted {
		e.afterTerminal(ctx, o)
	}
	slog.Info("executor: state restored",
		"saved_at", snap.SavedAt,
		"active", active,
		"archived", len(snap.ArchivedTrades),
		"interrupted", len(interrupted),
	)
}
