package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []TradeStatus{TradePending, TradeExecuting, TradeCompleted, TradeFailed, TradeCancelled}

func TestTradeStatus_LegalPaths(t *testing.T) {
	paths := [][]TradeStatus{
		{TradePending, TradeExecuting, TradeCompleted},
		{TradePending, TradeExecuting, TradeFailed},
		{TradePending, TradeCancelled},
	}
	for _, path := range paths {
		o := TradeOrder{ID: "t", Status: path[0]}
		for _, next := range path[1:] {
			require.NoError(t, o.Transition(next))
		}
		assert.True(t, o.Status.Terminal())
	}
}

func TestTradeStatus_NoTransitionOutOfTerminal(t *testing.T) {
	for _, from := range []TradeStatus{TradeCompleted, TradeFailed, TradeCancelled} {
		for _, to := range allStatuses {
			o := TradeOrder{Status: from}
			err := o.Transition(to)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s → %s", from, to)
			assert.Equal(t, from, o.Status)
		}
	}
}

// Recorre todas las secuencias posibles de longitud ≤ 4 y comprueba que las únicas
// que el state machine acepta son prefijos de los tres caminos válidos.
func TestTradeStatus_Monotonic(t *testing.T) {
	valid := map[string]bool{
		"PENDING":                     true,
		"PENDING>EXECUTING":           true,
		"PENDING>EXECUTING>COMPLETED": true,
		"PENDING>EXECUTING>FAILED":    true,
		"PENDING>CANCELLED":           true,
	}

	var walk func(o TradeOrder, seq string, depth int)
	walk = func(o TradeOrder, seq string, depth int) {
		assert.True(t, valid[seq], "unexpected sequence %s", seq)
		if depth == 0 {
			return
		}
		for _, next := range allStatuses {
			cp := o
			if cp.Transition(next) == nil {
				walk(cp, seq+">"+string(next), depth-1)
			}
		}
	}
	walk(TradeOrder{Status: TradePending}, "PENDING", 4)
}

func TestTradeOrder_RealizedProfit(t *testing.T) {
	o := TradeOrder{}
	assert.True(t, o.RealizedProfit().IsZero())

	p := decimal.RequireFromString("-1.25")
	o.ActualProfit = &p
	assert.Equal(t, "-1.25", o.RealizedProfit().String())
}

func TestGroupStats_Record(t *testing.T) {
	win := decimal.NewFromInt(10)
	loss := decimal.NewFromInt(-4)

	var g GroupStats
	g.Record(TradeOrder{Status: TradeCompleted, ActualProfit: &win})
	g.Record(TradeOrder{Status: TradeFailed, ActualProfit: &loss})
	g.Record(TradeOrder{Status: TradeCancelled})

	assert.Equal(t, 3, g.Total)
	assert.Equal(t, 1, g.Successful)
	assert.Equal(t, 1, g.Failed)
	assert.Equal(t, 1, g.Cancelled)
	assert.Equal(t, "6", g.CumulativeProfit.String())
	assert.InDelta(t, 0.5, g.SuccessRate(), 1e-9)
	assert.Equal(t, "3", g.AverageProfit().String())
}
