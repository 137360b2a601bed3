package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits son los límites estáticos que aplica el RiskGate.
// Solo cambian por la vía administrativa (UpdateRiskLimits).
type RiskLimits struct {
	MaxTradeNotional   decimal.Decimal `json:"max_trade_notional"`
	MaxDailyTrades     int             `json:"max_daily_trades"`
	MaxDailyLoss       decimal.Decimal `json:"max_daily_loss"` // valor positivo
	MinProfitMarginPct decimal.Decimal `json:"min_profit_margin_pct"`
	MaxSlippagePct     decimal.Decimal `json:"max_slippage_pct"`
}

// ErrInvalidLimits se devuelve al intentar aplicar límites incoherentes.
var ErrInvalidLimits = errors.New("invalid risk limits")

// Validate comprueba que los límites son utilizables.
func (l RiskLimits) Validate() error {
	switch {
	case !l.MaxTradeNotional.IsPositive():
		return fmt.Errorf("%w: max_trade_notional must be > 0", ErrInvalidLimits)
	case l.MaxDailyTrades <= 0:
		return fmt.Errorf("%w: max_daily_trades must be > 0", ErrInvalidLimits)
	case l.MaxDailyLoss.IsNegative():
		return fmt.Errorf("%w: max_daily_loss must be >= 0", ErrInvalidLimits)
	case l.MinProfitMarginPct.IsNegative():
		return fmt.Errorf("%w: min_profit_margin_pct must be >= 0", ErrInvalidLimits)
	case l.MaxSlippagePct.IsNegative() || l.MaxSlippagePct.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return fmt.Errorf("%w: max_slippage_pct must be in [0,100)", ErrInvalidLimits)
	}
	return nil
}

// DailyTotals son los contadores agregados del día natural en curso.
type DailyTotals struct {
	Day          string          `json:"day"` // YYYY-MM-DD en la zona configurada
	TradeCount   int             `json:"trade_count"`
	RealizedLoss decimal.Decimal `json:"realized_loss"` // suma de |actualProfit| negativos
}

// DayKey devuelve la clave de día natural de t en loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
