package executor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// Ledger lleva los contadores del día natural en curso (trades completados y
// pérdida realizada). Se reinicia solo al cruzar el límite de día en loc.
// Implementa ports.DailyLedger para el RiskGate.
type Ledger struct {
	loc *time.Location

	mu     sync.Mutex
	totals domain.DailyTotals
}

// NewLedger crea un Ledger en la zona dada (UTC si loc es nil).
func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc}
}

// Daily devuelve los contadores del día de now.
func (l *Ledger) Daily(now time.Time) domain.DailyTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)
	return l.totals
}

// Record suma una orden terminal al día de at.
func (l *Ledger) Record(o domain.TradeOrder, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(at)
	if o.Status == domain.TradeCompleted {
		l.totals.TradeCount++
	}
	if p := o.RealizedProfit(); p.IsNegative() {
		l.totals.RealizedLoss = l.totals.RealizedLoss.Add(p.Abs())
	}
}

// Restore carga los contadores de un snapshot. Si son de otro día se descartan
// en la siguiente lectura.
func (l *Ledger) Restore(t domain.DailyTotals) {
	l.mu.Lock()
	l.totals = t
	l.mu.Unlock()
}

func (l *Ledger) rollLocked(now time.Time) {
	day := domain.DayKey(now, l.loc)
	if l.totals.Day == day {
		return
	}
	if l.totals.Day != "" {
		slog.Info("executor: daily counters reset",
			"previous_day", l.totals.Day,
			"trades", l.totals.TradeCount,
			"realized_loss", l.totals.RealizedLoss,
		)
	}
	l.totals = domain.DailyTotals{Day: day}
}
