package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupStats aggregates terminal orders for one grouping key (symbol, venue pair, hour, day).
type GroupStats struct {
	Total            int             `json:"total"`
	Successful       int             `json:"successful"`
	Failed           int             `json:"failed"`
	Cancelled        int             `json:"cancelled"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
}

// Record folds one terminal order into the aggregate.
func (g *GroupStats) Record(o TradeOrder) {
	g.Total++
	switch o.Status {
	case TradeCompleted:
		g.Successful++
	case TradeFailed:
		g.Failed++
	case TradeCancelled:
		g.Cancelled++
	}
	g.CumulativeProfit = g.CumulativeProfit.Add(o.RealizedProfit())
}

// Executed counts orders that reached the venue (completed or failed).
func (g GroupStats) Executed() int {
	return g.Successful + g.Failed
}

// SuccessRate is successful / executed, 0 when nothing executed.
func (g GroupStats) SuccessRate() float64 {
	if g.Executed() == 0 {
		return 0
	}
	return float64(g.Successful) / float64(g.Executed())
}

// AverageProfit is cumulative profit / executed orders.
func (g GroupStats) AverageProfit() decimal.Decimal {
	if g.Executed() == 0 {
		return decimal.Zero
	}
	return g.CumulativeProfit.Div(decimal.NewFromInt(int64(g.Executed())))
}

// TradeStats is the exported statistics view.
type TradeStats struct {
	GroupStats
	SuccessRate   float64         `json:"success_rate"`
	AverageProfit decimal.Decimal `json:"average_profit"`
}

// NewTradeStats derives the computed fields from g.
func NewTradeStats(g GroupStats) TradeStats {
	return TradeStats{GroupStats: g, SuccessRate: g.SuccessRate(), AverageProfit: g.AverageProfit()}
}

// TradeSnapshot is the persisted JSON layout reloaded at startup.
type TradeSnapshot struct {
	SavedAt        time.Time             `json:"saved_at"`
	ActiveTrades   []TradeOrder          `json:"active_trades"`
	ArchivedTrades []TradeOrder          `json:"archived_trades"`
	Stats          GroupStats            `json:"stats"`
	SymbolStats    map[string]GroupStats `json:"symbol_stats"`
	VenuePairStats map[string]GroupStats `json:"venue_pair_stats"`
	Hourly         map[string]GroupStats `json:"hourly"`
	Daily          map[string]GroupStats `json:"daily"`
	Ledger         DailyTotals           `json:"ledger"`
}
