// Package control despacha el conjunto cerrado de comandos de operador
// (domain.Command) hacia los componentes que los atienden.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/application/executor"
	"github.com/alejandrodnm/arbfleet/internal/application/risk"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoCandidate    = errors.New("no current opportunity for symbol")
	ErrInvalidAmount  = errors.New("amount must be positive")
)

// WorkerAdmin es la vista del Supervisor que usa el controlador.
type WorkerAdmin interface {
	Status() map[string]domain.WorkerRuntimeState
	State(name string) (domain.WorkerRuntimeState, bool)
	HealthInterval() time.Duration
	Reregister(name string) error
	Start(ctx context.Context, name string) error
}

// RecoveryRequester encola acciones manuales y descarta las de un worker.
type RecoveryRequester interface {
	RequestManual(worker string, kind domain.ActionKind, reason string) error
	Discard(worker string)
}

// OpportunitySource expone el último ranking del pipeline.
type OpportunitySource interface {
	Opportunities() ([]domain.ArbitrageCandidate, time.Time)
	Best(symbol string) (domain.ArbitrageCandidate, bool)
	Interval() time.Duration
}

// TradeDesk es la superficie del executor.
type TradeDesk interface {
	Submit(ctx context.Context, c domain.ArbitrageCandidate, amount decimal.Decimal) (domain.TradeOrder, error)
	Execute(ctx context.Context, id string) (domain.TradeOrder, error)
	Cancel(ctx context.Context, id string) (domain.TradeOrder, error)
	Order(id string) (domain.TradeOrder, bool)
	Active() []domain.TradeOrder
	Archived() []domain.TradeOrder
	Stats() executor.Report
	Daily(now time.Time) domain.DailyTotals
}

// LimitsAdmin cambia los límites de riesgo.
type LimitsAdmin interface {
	Limits() domain.RiskLimits
	UpdateLimits(l domain.RiskLimits) error
}

// Controller traduce comandos a llamadas. Cada resultado es serializable a JSON.
type Controller struct {
	workers  WorkerAdmin
	recovery RecoveryRequester
	opps     OpportunitySource
	desk     TradeDesk
	limits   LimitsAdmin
	now      func() time.Time
}

// New crea un Controller.
func New(workers WorkerAdmin, recovery RecoveryRequester, opps OpportunitySource, desk TradeDesk, limits LimitsAdmin) *Controller {
	return &Controller{
		workers:  workers,
		recovery: recovery,
		opps:     opps,
		desk:     desk,
		limits:   limits,
		now:      time.Now,
	}
}

// WorkerView es el estado de un worker más el indicador de staleness.
type WorkerView struct {
	domain.WorkerRuntimeState
	Stale bool `json:"stale"`
}

// StatusReport es la respuesta a StatusQuery.
type StatusReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Workers     map[string]WorkerView `json:"workers"`
	Daily       domain.DailyTotals    `json:"daily"`
	Limits      domain.RiskLimits     `json:"limits"`
}

// OpportunitiesReport es la respuesta a OpportunitiesQuery.
type OpportunitiesReport struct {
	DetectedAt time.Time                   `json:"detected_at"`
	Stale      bool                        `json:"stale"`
	Candidates []domain.ArbitrageCandidate `json:"candidates"`
}

// TradesReport es la respuesta a TradesQuery.
type TradesReport struct {
	Active   []domain.TradeOrder `json:"active"`
	Archived []domain.TradeOrder `json:"archived"`
	Stats    executor.Report     `json:"stats"`
}

// SubmitResult es la respuesta a SubmitCommand. Un rechazo del RiskGate no es un error.
type SubmitResult struct {
	Approved bool               `json:"approved"`
	Reason   string             `json:"reason,omitempty"`
	Order    *domain.TradeOrder `json:"order,omitempty"`
}

// RecoverResult confirma que la acción manual quedó encolada.
type RecoverResult struct {
	Worker string            `json:"worker"`
	Kind   domain.ActionKind `json:"kind"`
	Queued bool              `json:"queued"`
}

// ReregisterResult es el estado del worker tras volver a registrarlo.
type ReregisterResult struct {
	Worker  string                    `json:"worker"`
	Started bool                      `json:"started"`
	State   domain.WorkerRuntimeState `json:"state"`
}

// Dispatch ejecuta un comando y devuelve su resultado.
func (c *Controller) Dispatch(ctx context.Context, cmd domain.Command) (any, error) {
	switch cmd := cmd.(type) {
	case domain.StatusQuery:
		return c.status(), nil
	case domain.OpportunitiesQuery:
		return c.opportunities(), nil
	case domain.TradesQuery:
		return TradesReport{
			Active:   c.desk.Active(),
			Archived: c.desk.Archived(),
			Stats:    c.desk.Stats(),
		}, nil
	case domain.TradeQuery:
		o, ok := c.desk.Order(cmd.ID)
		if !ok {
			return nil, fmt.Errorf("control.Dispatch: %w: %s", executor.ErrOrderNotFound, cmd.ID)
		}
		return o, nil
	case domain.SubmitCommand:
		return c.submit(ctx, cmd)
	case domain.CancelCommand:
		return c.desk.Cancel(ctx, cmd.ID)
	case domain.UpdateRiskLimitsCommand:
		if err := c.limits.UpdateLimits(cmd.Limits); err != nil {
			return nil, err
		}
		return c.limits.Limits(), nil
	case domain.RecoverWorkerCommand:
		if err := c.recovery.RequestManual(cmd.Worker, cmd.Kind, cmd.Reason); err != nil {
			return nil, err
		}
		return RecoverResult{Worker: cmd.Worker, Kind: cmd.Kind, Queued: true}, nil
	case domain.ReregisterWorkerCommand:
		return c.reregister(ctx, cmd)
	default:
		return nil, fmt.Errorf("control.Dispatch: %w: %T", ErrUnknownCommand, cmd)
	}
}

func (c *Controller) status() StatusReport {
	now := c.now()
	maxAge := 2 * c.workers.HealthInterval()
	states := c.workers.Status()

	views := make(map[string]WorkerView, len(states))
	for name, st := range states {
		stale := st.Status != domain.WorkerStopped && !st.Exhausted && st.Stale(now, maxAge)
		views[name] = WorkerView{WorkerRuntimeState: st, Stale: stale}
	}
	return StatusReport{
		GeneratedAt: now,
		Workers:     views,
		Daily:       c.desk.Daily(now),
		Limits:      c.limits.Limits(),
	}
}

func (c *Controller) opportunities() OpportunitiesReport {
	cands, at := c.opps.Opportunities()
	if cands == nil {
		cands = []domain.ArbitrageCandidate{}
	}
	return OpportunitiesReport{
		DetectedAt: at,
		Stale:      at.IsZero() || c.now().Sub(at) > 3*c.opps.Interval(),
		Candidates: cands,
	}
}

func (c *Controller) submit(ctx context.Context, cmd domain.SubmitCommand) (SubmitResult, error) {
	if !cmd.Amount.IsPositive() {
		return SubmitResult{}, fmt.Errorf("control.submit: %w", ErrInvalidAmount)
	}
	cand, ok := c.opps.Best(cmd.SymbolPair)
	if !ok {
		return SubmitResult{}, fmt.Errorf("control.submit: %w: %s", ErrNoCandidate, cmd.SymbolPair)
	}

	order, err := c.desk.Submit(ctx, cand, cmd.Amount)
	var rej *risk.Rejection
	if errors.As(err, &rej) {
		return SubmitResult{Approved: false, Reason: rej.Reason}, nil
	}
	if err != nil {
		return SubmitResult{}, err
	}

	if cmd.Execute {
		done, err := c.desk.Execute(ctx, order.ID)
		if err != nil {
			return SubmitResult{}, err
		}
		order = done
	}
	return SubmitResult{Approved: true, Order: &order}, nil
}

// reregister devuelve un worker agotado a STOPPED con el presupuesto a cero.
// Las acciones que quedaran en cola para él ya no aplican.
func (c *Controller) reregister(ctx context.Context, cmd domain.ReregisterWorkerCommand) (ReregisterResult, error) {
	if err := c.workers.Reregister(cmd.Worker); err != nil {
		return ReregisterResult{}, err
	}
	c.recovery.Discard(cmd.Worker)

	res := ReregisterResult{Worker: cmd.Worker}
	if cmd.Start {
		if err := c.workers.Start(ctx, cmd.Worker); err != nil {
			return ReregisterResult{}, fmt.Errorf("control.reregister: start %s: %w", cmd.Worker, err)
		}
		res.Started = true
	}
	res.State, _ = c.workers.State(cmd.Worker)
	return res, nil
}
