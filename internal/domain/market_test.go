package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceQuote_Valid(t *testing.T) {
	q := PriceQuote{SymbolPair: "WMATIC/USDC", Venue: "quickswap", Price: decimal.RequireFromString("0.85"), Confidence: 1}
	assert.True(t, q.Valid())

	zero := q
	zero.Price = decimal.Zero
	assert.False(t, zero.Valid())

	noVenue := q
	noVenue.Venue = ""
	assert.False(t, noVenue.Valid())

	overConfident := q
	overConfident.Confidence = 1.2
	assert.False(t, overConfident.Valid())
}

func TestSnapshot_AddReplacesSameVenue(t *testing.T) {
	snap := make(Snapshot)
	snap.Add(PriceQuote{SymbolPair: "WETH/USDC", Venue: "uniswap", Price: decimal.NewFromInt(3200)})
	snap.Add(PriceQuote{SymbolPair: "WETH/USDC", Venue: "uniswap", Price: decimal.NewFromInt(3210)})
	snap.Add(PriceQuote{SymbolPair: "WETH/USDC", Venue: "sushiswap", Price: decimal.NewFromInt(3190)})

	require.Equal(t, 2, snap.Len())
	assert.Equal(t, "3210", snap["WETH/USDC"]["uniswap"].Price.String())
}

func TestArbitrageCandidate_Profit(t *testing.T) {
	c := ArbitrageCandidate{
		BuyVenue:           "sushiswap",
		SellVenue:          "quickswap",
		BuyPrice:           decimal.RequireFromString("0.850"),
		SellPrice:          decimal.RequireFromString("0.855"),
		EstimatedGasCost:   decimal.RequireFromString("0.5"),
		EstimatedNetProfit: decimal.NewFromInt(10),
		ConfidenceScore:    0.5,
	}
	assert.Equal(t, "0.005", c.Spread().String())
	// 0.005 × 5000 − 0.5
	assert.Equal(t, "24.5", c.ExpectedProfit(decimal.NewFromInt(5000)).String())
	assert.Equal(t, "5", c.RankScore().String())
	assert.Equal(t, "sushiswap->quickswap", c.VenuePair())
}

func TestRiskLimits_Validate(t *testing.T) {
	ok := RiskLimits{MaxTradeNotional: decimal.NewFromInt(1000), MaxDailyTrades: 5}
	require.NoError(t, ok.Validate())

	bad := []RiskLimits{
		{MaxDailyTrades: 5},
		{MaxTradeNotional: decimal.NewFromInt(1000)},
		{MaxTradeNotional: decimal.NewFromInt(1000), MaxDailyTrades: 5, MaxDailyLoss: decimal.NewFromInt(-1)},
		{MaxTradeNotional: decimal.NewFromInt(1000), MaxDailyTrades: 5, MaxSlippagePct: decimal.NewFromInt(100)},
	}
	for _, l := range bad {
		assert.ErrorIs(t, l.Validate(), ErrInvalidLimits)
	}
}

func TestDayKey_UsesLocation(t *testing.T) {
	ts := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-10", DayKey(ts, nil))

	tokyo := time.FixedZone("JST", 9*3600)
	assert.Equal(t, "2026-03-11", DayKey(ts, tokyo))
}
