package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	mu     sync.Mutex
	prices map[string]string // "symbol@venue" → price
	fail   map[string]bool
	calls  int
}

func (s *stubSource) GetQuote(_ context.Context, symbol, venue string) (domain.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	key := symbol + "@" + venue
	if s.fail[key] {
		return domain.PriceQuote{}, errors.New("venue down")
	}
	p, ok := s.prices[key]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("no price for %s", key)
	}
	return domain.PriceQuote{
		SymbolPair: symbol,
		Venue:      venue,
		Price:      decimal.RequireFromString(p),
		Liquidity:  decimal.NewFromInt(10000),
		Confidence: 0.9,
	}, nil
}

type stubPublisher struct {
	mu     sync.Mutex
	quotes []domain.PriceQuote
}

func (p *stubPublisher) PublishQuotes(_ context.Context, qs []domain.PriceQuote) error {
	p.mu.Lock()
	p.quotes = append(p.quotes, qs...)
	p.mu.Unlock()
	return nil
}

// seed mete cotizaciones en la caché como lo haría un Refresh.
func seed(a *Aggregator, quotes ...domain.PriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range quotes {
		a.cache[q.Key()] = q
		a.evictLocked()
	}
}

func TestAggregator_RefreshAndSnapshot(t *testing.T) {
	src := &stubSource{prices: map[string]string{
		"ETH/USDC@uniswap": "2000.5",
		"ETH/USDC@sushi":   "2001",
		"BTC/USDC@uniswap": "60000",
		"BTC/USDC@sushi":   "0", // inválida
	}}
	pub := &stubPublisher{}
	a := New(Config{
		Symbols: []string{"ETH/USDC", "BTC/USDC"},
		Venues:  []string{"uniswap", "sushi"},
		Workers: 2,
	}, src, pub, metrics.NewUnregistered())

	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, 4, src.calls)
	assert.Equal(t, 3, a.Len())
	assert.Len(t, pub.quotes, 3)
	assert.False(t, a.LastRefresh().IsZero())

	snap := a.Snapshot(nil)
	require.Len(t, snap["ETH/USDC"], 2)
	assert.Equal(t, "2001", snap["ETH/USDC"]["sushi"].Price.String())
	assert.Len(t, snap["BTC/USDC"], 1)

	only := a.Snapshot([]string{"BTC/USDC"})
	assert.Len(t, only, 1)
	assert.Equal(t, 1, only.Len())
}

func TestAggregator_FailedVenueKeepsPreviousQuote(t *testing.T) {
	src := &stubSource{
		prices: map[string]string{"ETH/USDC@uniswap": "2000"},
		fail:   map[string]bool{},
	}
	a := New(Config{Symbols: []string{"ETH/USDC"}, Venues: []string{"uniswap"}}, src, nil, nil)
	require.NoError(t, a.Refresh(context.Background()))

	src.mu.Lock()
	src.fail["ETH/USDC@uniswap"] = true
	src.mu.Unlock()

	err := a.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoQuotes)
	assert.Equal(t, 1, a.Snapshot(nil).Len())
}

func TestAggregator_ExcludesStaleQuotes(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := New(Config{TTL: 10 * time.Second}, &stubSource{}, nil, nil)
	a.now = func() time.Time { return now }

	seed(a,
		domain.PriceQuote{SymbolPair: "ETH/USDC", Venue: "a", Price: decimal.NewFromInt(1), ObservedAt: now.Add(-5 * time.Second)},
		domain.PriceQuote{SymbolPair: "ETH/USDC", Venue: "b", Price: decimal.NewFromInt(1), ObservedAt: now.Add(-time.Minute)},
	)

	snap := a.Snapshot(nil)
	assert.Equal(t, 1, snap.Len())
	_, ok := snap["ETH/USDC"]["a"]
	assert.True(t, ok)
}

func TestAggregator_EvictsOldest(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := New(Config{MaxEntries: 2, TTL: time.Hour}, &stubSource{}, nil, nil)
	a.now = func() time.Time { return base.Add(time.Minute) }

	for i, venue := range []string{"old", "mid", "new"} {
		seed(a, domain.PriceQuote{
			SymbolPair: "ETH/USDC",
			Venue:      venue,
			Price:      decimal.NewFromInt(1),
			ObservedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	assert.Equal(t, 2, a.Len())
	snap := a.Snapshot(nil)
	_, hasOld := snap["ETH/USDC"]["old"]
	assert.False(t, hasOld)
}
