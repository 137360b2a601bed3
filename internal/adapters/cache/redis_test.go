package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/cache"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMirror(t *testing.T) (*cache.QuoteMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	m, err := cache.NewQuoteMirror(context.Background(), mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func quote(symbol, venue, price string, at time.Time) domain.PriceQuote {
	return domain.PriceQuote{
		SymbolPair: symbol,
		Venue:      venue,
		Price:      decimal.RequireFromString(price),
		Liquidity:  decimal.NewFromInt(50000),
		ObservedAt: at,
		Confidence: 0.9,
	}
}

func TestPublishQuotes_RoundTrip(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.PublishQuotes(ctx, []domain.PriceQuote{
		quote("WMATIC/USDC", "quickswap", "0.855", at),
		quote("WMATIC/USDC", "sushiswap", "0.850", at),
		quote("ETH/USDC", "uniswap", "3000", at.Add(time.Second)),
	}))

	got, err := m.Latest(ctx, "WMATIC/USDC")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0.855", got["quickswap"].Price.String())
	assert.Equal(t, 0.9, got["sushiswap"].Confidence)

	assert.True(t, mr.Exists("quotes:WMATIC/USDC"))
	assert.Equal(t, time.Minute, mr.TTL("quotes:WMATIC/USDC"))

	symbols, err := m.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH/USDC", "WMATIC/USDC"}, symbols)
}

func TestPublishQuotes_OverwritesVenue(t *testing.T) {
	m, _ := newMirror(t)
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, m.PublishQuotes(ctx, []domain.PriceQuote{quote("ETH/USDC", "uniswap", "3000", at)}))
	require.NoError(t, m.PublishQuotes(ctx, []domain.PriceQuote{quote("ETH/USDC", "uniswap", "3010", at.Add(time.Second))}))

	got, err := m.Latest(ctx, "ETH/USDC")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3010", got["uniswap"].Price.String())
}

func TestLatest_Missing(t *testing.T) {
	m, _ := newMirror(t)
	got, err := m.Latest(context.Background(), "NOPE/USDC")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewQuoteMirror_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = cache.NewQuoteMirror(ctx, addr, "", 0, 0)
	assert.Error(t, err)
}
