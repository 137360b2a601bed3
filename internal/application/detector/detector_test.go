package detector

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(symbol, venue, price string, liquidity int64, confidence float64) domain.PriceQuote {
	return domain.PriceQuote{
		SymbolPair: symbol,
		Venue:      venue,
		Price:      decimal.RequireFromString(price),
		Liquidity:  decimal.NewFromInt(liquidity),
		Confidence: confidence,
	}
}

func snapshotOf(quotes ...domain.PriceQuote) domain.Snapshot {
	s := make(domain.Snapshot)
	for _, q := range quotes {
		s.Add(q)
	}
	return s
}

func configWith(fn func(c *Config)) Config {
	c := DefaultConfig()
	fn(&c)
	return c
}

func newTestDetector() *Detector {
	return New(configWith(func(c *Config) {
		c.GasCost = decimal.RequireFromString("0.5")
	}), metrics.NewUnregistered())
}

func TestDetect_TwoVenueSpread(t *testing.T) {
	d := newTestDetector()
	snap := snapshotOf(
		quote("WMATIC/USDC", "quickswap", "0.855", 200000, 0.9),
		quote("WMATIC/USDC", "sushiswap", "0.850", 200000, 0.8),
	)

	got := d.Detect(snap)
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "sushiswap", c.BuyVenue)
	assert.Equal(t, "quickswap", c.SellVenue)

	pct, _ := c.SpreadPct.Float64()
	assert.InDelta(t, 0.588, pct, 0.001)

	// capped = min(200000 × 10%, 10000) = 10000 → 0.005 × 10000 − 0.5
	assert.Equal(t, "49.5", c.EstimatedNetProfit.String())
	assert.Equal(t, "10000", c.EstimatedNotional.Max.String())
	assert.InDelta(t, 0.8, c.ConfidenceScore, 1e-9)
	assert.True(t, c.SellPrice.GreaterThan(c.BuyPrice))
}

func TestDetect_SpreadFormulaHoldsForRandomPrices(t *testing.T) {
	d := New(configWith(func(c *Config) {
		c.MinSpreadPct = decimal.RequireFromString("0.0001")
		c.TradeCeiling = decimal.NewFromInt(1000)
	}), nil)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		p1 := decimal.NewFromInt(int64(rng.Intn(100000) + 1000)).Shift(-3)
		p2 := p1.Add(decimal.NewFromInt(int64(rng.Intn(5000) + 1)).Shift(-3))

		got := d.Detect(snapshotOf(
			domain.PriceQuote{SymbolPair: "X/Y", Venue: "a", Price: p1, Liquidity: decimal.NewFromInt(1e6), Confidence: 1},
			domain.PriceQuote{SymbolPair: "X/Y", Venue: "b", Price: p2, Liquidity: decimal.NewFromInt(1e6), Confidence: 1},
		))
		require.Len(t, got, 1, "p1=%s p2=%s", p1, p2)
		assert.Equal(t, "a", got[0].BuyVenue)
		assert.Equal(t, "b", got[0].SellVenue)
		want := p2.Sub(p1).Div(p1).Mul(decimal.NewFromInt(100))
		assert.True(t, want.Equal(got[0].SpreadPct), "want %s got %s", want, got[0].SpreadPct)
	}
}

func TestDetect_DiscardsBelowMinSpread(t *testing.T) {
	d := newTestDetector()
	// spread 0.05% < 0.1%
	snap := snapshotOf(
		quote("ETH/USDC", "a", "2000", 1000000, 1),
		quote("ETH/USDC", "b", "2001", 1000000, 1),
	)
	assert.Empty(t, d.Detect(snap))

	for _, c := range d.Detect(snapshotOf(
		quote("ETH/USDC", "a", "2000", 1000000, 1),
		quote("ETH/USDC", "b", "2001", 1000000, 1),
		quote("ETH/USDC", "c", "2010", 1000000, 1),
	)) {
		assert.True(t, c.SpreadPct.GreaterThanOrEqual(decimal.RequireFromString("0.1")), c.VenuePair())
	}
}

func TestDetect_ZeroValuesAreKept(t *testing.T) {
	tiny := snapshotOf(
		quote("ETH/USDC", "a", "2000", 1000000, 1),
		quote("ETH/USDC", "b", "2001", 1000000, 1), // 0.05%
	)
	assert.Empty(t, New(DefaultConfig(), nil).Detect(tiny))

	d := New(configWith(func(c *Config) { c.MinSpreadPct = decimal.Zero }), nil)
	got := d.Detect(tiny)
	require.Len(t, got, 1)
	assert.Equal(t, "0.05", got[0].SpreadPct.String())

	var quotes []domain.PriceQuote
	for i := 0; i < 25; i++ {
		sym := fmt.Sprintf("T%02d/USDC", i)
		quotes = append(quotes, quote(sym, "a", "1.00", 1000000, 1), quote(sym, "b", "1.01", 1000000, 1))
	}
	unlimited := New(configWith(func(c *Config) { c.TopN = 0 }), nil)
	assert.Len(t, unlimited.Detect(snapshotOf(quotes...)), 25)
	assert.Len(t, New(DefaultConfig(), nil).Detect(snapshotOf(quotes...)), 20)
}

func TestDetect_DiscardsNonPositiveNet(t *testing.T) {
	d := New(configWith(func(c *Config) { c.GasCost = decimal.NewFromInt(100) }), nil)
	snap := snapshotOf(
		quote("WMATIC/USDC", "a", "0.850", 1000, 1), // capped = 100 → 0.5 − 100 < 0
		quote("WMATIC/USDC", "b", "0.855", 1000, 1),
	)
	assert.Empty(t, d.Detect(snap))
}

func TestDetect_SingleVenueAndEqualPrices(t *testing.T) {
	d := newTestDetector()
	assert.Empty(t, d.Detect(snapshotOf(quote("ETH/USDC", "a", "2000", 1000000, 1))))
	assert.Empty(t, d.Detect(snapshotOf(
		quote("ETH/USDC", "a", "2000", 1000000, 1),
		quote("ETH/USDC", "b", "2000", 1000000, 1),
	)))
}

func TestDetect_RankedAndTruncated(t *testing.T) {
	d := New(configWith(func(c *Config) { c.TopN = 3 }), nil)

	var quotes []domain.PriceQuote
	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("T%d/USDC", i)
		quotes = append(quotes,
			quote(sym, "a", "1.00", 1000000, 1),
			quote(sym, "b", fmt.Sprintf("1.0%d", i+1), 1000000, 1),
		)
	}
	got := d.Detect(snapshotOf(quotes...))
	require.Len(t, got, 3)
	assert.Equal(t, "T4/USDC", got[0].SymbolPair)
	assert.Equal(t, "T3/USDC", got[1].SymbolPair)
	assert.Equal(t, "T2/USDC", got[2].SymbolPair)
}

func TestDetect_ConfidenceWeightsRanking(t *testing.T) {
	d := New(DefaultConfig(), nil)
	got := d.Detect(snapshotOf(
		quote("A/USDC", "x", "1.00", 1000000, 0.2),
		quote("A/USDC", "y", "1.02", 1000000, 0.2), // net 200 × 0.2 = 40
		quote("B/USDC", "x", "1.00", 1000000, 1),
		quote("B/USDC", "y", "1.01", 1000000, 1), // net 100 × 1 = 100
	))
	require.Len(t, got, 2)
	assert.Equal(t, "B/USDC", got[0].SymbolPair)
}
