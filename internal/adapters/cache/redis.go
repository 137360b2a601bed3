// Package cache replica las últimas cotizaciones en Redis para que el resto de
// workers de la flota las lean sin consultar al proveedor.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "quotes:"
	activeKey = "quotes:active"
)

// QuoteMirror implementa ports.QuotePublisher: un hash por símbolo,
// campo = venue, valor = cotización JSON.
type QuoteMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteMirror conecta con Redis y comprueba la conexión.
func NewQuoteMirror(ctx context.Context, addr, password string, db int, ttl time.Duration) (*QuoteMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache.NewQuoteMirror: ping %s: %w", addr, err)
	}
	return &QuoteMirror{rdb: rdb, ttl: ttl}, nil
}

func symbolKey(symbol string) string { return keyPrefix + symbol }

// PublishQuotes escribe todas las cotizaciones en un único pipeline.
func (m *QuoteMirror) PublishQuotes(ctx context.Context, quotes []domain.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	bySymbol := make(map[string]map[string]any)
	latest := make(map[string]time.Time)
	for _, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("cache.PublishQuotes: marshal %s@%s: %w", q.SymbolPair, q.Venue, err)
		}
		fields, ok := bySymbol[q.SymbolPair]
		if !ok {
			fields = make(map[string]any)
			bySymbol[q.SymbolPair] = fields
		}
		fields[q.Venue] = data
		if q.ObservedAt.After(latest[q.SymbolPair]) {
			latest[q.SymbolPair] = q.ObservedAt
		}
	}

	pipe := m.rdb.TxPipeline()
	for symbol, fields := range bySymbol {
		key := symbolKey(symbol)
		pipe.HSet(ctx, key, fields)
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
		}
		pipe.ZAdd(ctx, activeKey, redis.Z{
			Score:  float64(latest[symbol].UnixMilli()),
			Member: symbol,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache.PublishQuotes: exec: %w", err)
	}
	return nil
}

// Latest lee las cotizaciones replicadas de un símbolo. Sin datos → mapa vacío.
func (m *QuoteMirror) Latest(ctx context.Context, symbol string) (map[string]domain.PriceQuote, error) {
	raw, err := m.rdb.HGetAll(ctx, symbolKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache.Latest: hgetall %s: %w", symbol, err)
	}
	out := make(map[string]domain.PriceQuote, len(raw))
	for venue, data := range raw {
		var q domain.PriceQuote
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			return nil, fmt.Errorf("cache.Latest: decode %s@%s: %w", symbol, venue, err)
		}
		out[venue] = q
	}
	return out, nil
}

// Symbols devuelve los símbolos publicados, del más reciente al más antiguo.
func (m *QuoteMirror) Symbols(ctx context.Context) ([]string, error) {
	symbols, err := m.rdb.ZRevRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache.Symbols: %w", err)
	}
	return symbols, nil
}

// Ping comprueba la conexión.
func (m *QuoteMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Close cierra el cliente Redis.
func (m *QuoteMirror) Close() error {
	return m.rdb.Close()
}
