// Package risk valida candidatos contra los límites configurados antes de
// permitir su ejecución.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
	"github.com/shopspring/decimal"
)

// Motivos de rechazo. Son parte del contrato con los operadores.
const (
	ReasonNonPositiveAmount = "amount must be positive"
	ReasonMaxNotional       = "exceeds max trade notional"
	ReasonMinMargin         = "profit margin below minimum"
	ReasonDailyTrades       = "daily trade limit reached"
	ReasonDailyLoss         = "daily loss limit reached"
	ReasonInvalidCandidate  = "candidate sell price not above buy price"
)

var hundred = decimal.NewFromInt(100)

// Rejection es el resultado negativo de una autorización. No es un fallo:
// el llamador lo devuelve tal cual al operador.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "risk: rejected: " + r.Reason }

// Gate aplica RiskLimits. Authorize no modifica nada: solo lee límites y ledger.
type Gate struct {
	ledger  ports.DailyLedger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	limits domain.RiskLimits

	now func() time.Time
}

// New crea un Gate con límites ya validados. ledger puede ser nil (contadores a cero).
func New(limits domain.RiskLimits, ledger ports.DailyLedger, m *metrics.Metrics) (*Gate, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk.New: %w", err)
	}
	return &Gate{ledger: ledger, metrics: m, limits: limits, now: time.Now}, nil
}

// Limits devuelve los límites vigentes.
func (g *Gate) Limits() domain.RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

// UpdateLimits reemplaza los límites (vía administrativa).
func (g *Gate) UpdateLimits(l domain.RiskLimits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("risk.UpdateLimits: %w", err)
	}
	g.mu.Lock()
	g.limits = l
	g.mu.Unlock()
	slog.Info("risk: limits updated",
		"max_trade_notional", l.MaxTradeNotional,
		"max_daily_trades", l.MaxDailyTrades,
		"max_daily_loss", l.MaxDailyLoss,
		"min_profit_margin_pct", l.MinProfitMarginPct,
	)
	return nil
}

// Authorize decide si un trade de amount sobre el candidato puede ejecutarse.
func (g *Gate) Authorize(c domain.ArbitrageCandidate, amount decimal.Decimal) (bool, string) {
	if r := g.Check(c, amount); r != nil {
		return false, r.Reason
	}
	return true, ""
}

// Check es Authorize en forma de error tipado; nil significa aprobado.
func (g *Gate) Check(c domain.ArbitrageCandidate, amount decimal.Decimal) *Rejection {
	return g.CheckAt(c, amount, g.now())
}

// CheckAt es Check contra los contadores diarios del día de at. El executor lo
// usa con su propio reloj para que gate y ledger vean el mismo día.
func (g *Gate) CheckAt(c domain.ArbitrageCandidate, amount decimal.Decimal, at time.Time) *Rejection {
	reason := g.evaluate(c, amount, at)
	if reason == "" {
		return nil
	}
	if g.metrics != nil {
		g.metrics.RiskRejections.WithLabelValues(reason).Inc()
	}
	slog.Debug("risk: trade rejected",
		"symbol", c.SymbolPair, "venues", c.VenuePair(), "amount", amount, "reason", reason)
	return &Rejection{Reason: reason}
}

func (g *Gate) evaluate(c domain.ArbitrageCandidate, amount decimal.Decimal, at time.Time) string {
	limits := g.Limits()

	if !amount.IsPositive() {
		return ReasonNonPositiveAmount
	}
	if amount.GreaterThan(limits.MaxTradeNotional) {
		return ReasonMaxNotional
	}
	if !c.SellPrice.GreaterThan(c.BuyPrice) {
		return ReasonInvalidCandidate
	}

	margin := c.ExpectedProfit(amount).Div(amount).Mul(hundred)
	if margin.LessThan(limits.MinProfitMarginPct) {
		return ReasonMinMargin
	}

	var daily domain.DailyTotals
	if g.ledger != nil {
		daily = g.ledger.Daily(at)
	}
	if daily.TradeCount >= limits.MaxDailyTrades {
		return ReasonDailyTrades
	}
	// max_daily_loss = 0 desactiva el límite de pérdidas
	if limits.MaxDailyLoss.IsPositive() && daily.RealizedLoss.GreaterThanOrEqual(limits.MaxDailyLoss) {
		return ReasonDailyLoss
	}
	return ""
}
