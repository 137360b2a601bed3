package pricefeed

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureSource es una fuente de precios determinista: cada venue cotiza el
// precio base del par desplazado un número fijo de puntos básicos derivado
// del nombre del venue. No hay aleatoriedad; sirve para paper trading y tests.
type FixtureSource struct {
	mu        sync.RWMutex
	base      map[string]decimal.Decimal
	liquidity decimal.Decimal
	spreadBps int64 // desviación máxima por venue, en puntos básicos
	now       func() time.Time
}

// NewFixture crea una FixtureSource con los precios base dados.
func NewFixture(base map[string]decimal.Decimal, liquidity decimal.Decimal, spreadBps int64) *FixtureSource {
	prices := make(map[string]decimal.Decimal, len(base))
	for k, v := range base {
		prices[k] = v
	}
	if spreadBps <= 0 {
		spreadBps = 50
	}
	return &FixtureSource{
		base:      prices,
		liquidity: liquidity,
		spreadBps: spreadBps,
		now:       time.Now,
	}
}

// SetBase cambia el precio base de un par.
func (f *FixtureSource) SetBase(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.base[symbol] = price
	f.mu.Unlock()
}

// GetQuote implementa ports.PriceSource.
func (f *FixtureSource) GetQuote(_ context.Context, symbol, venue string) (domain.PriceQuote, error) {
	f.mu.RLock()
	base, ok := f.base[symbol]
	f.mu.RUnlock()
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("pricefeed.Fixture %s@%s: %w", symbol, venue, ErrNoQuote)
	}

	bps := venueOffsetBps(venue, f.spreadBps)
	factor := decimal.NewFromInt(10000 + bps).Div(decimal.NewFromInt(10000))
	return domain.PriceQuote{
		SymbolPair: symbol,
		Venue:      venue,
		Price:      base.Mul(factor),
		Liquidity:  f.liquidity,
		ObservedAt: f.now(),
		Confidence: 1,
	}, nil
}

// venueOffsetBps mapea el nombre del venue a [-maxBps, +maxBps] de forma estable.
func venueOffsetBps(venue string, maxBps int64) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(venue))
	return int64(h.Sum32()%uint32(2*maxBps+1)) - maxBps
}
