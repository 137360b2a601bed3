// Package pricing mantiene la caché de cotizaciones por (symbol, venue) y
// produce snapshots frescos para el detector.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
)

// ErrNoQuotes se devuelve cuando una ronda de refresco no obtiene ninguna cotización válida.
var ErrNoQuotes = errors.New("no valid quotes fetched")

// Config contiene la configuración del agregador.
type Config struct {
	Symbols         []string
	Venues          []string
	RefreshInterval time.Duration
	TTL             time.Duration // cotizaciones más viejas no entran en los snapshots
	MaxEntries      int           // tamaño máximo de la caché; se expulsa la más antigua
	Workers         int           // goroutines para el fetch paralelo (0 = NumCPU*2)
}

// Aggregator es dueño de la caché de cotizaciones.
type Aggregator struct {
	cfg       Config
	source    ports.PriceSource
	publisher ports.QuotePublisher
	metrics   *metrics.Metrics

	mu          sync.RWMutex
	cache       map[domain.QuoteKey]domain.PriceQuote
	lastRefresh time.Time

	now func() time.Time
}

// New crea un Aggregator. publisher y m pueden ser nil.
func New(cfg Config, source ports.PriceSource, publisher ports.QuotePublisher, m *metrics.Metrics) *Aggregator {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Aggregator{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		metrics:   m,
		cache:     make(map[domain.QuoteKey]domain.PriceQuote),
		now:       time.Now,
	}
}

// Run refresca la caché cada RefreshInterval hasta que se cancele el contexto.
func (a *Aggregator) Run(ctx context.Context) error {
	slog.Info("pricing: refresh loop starting",
		"symbols", len(a.cfg.Symbols),
		"venues", len(a.cfg.Venues),
		"interval", a.cfg.RefreshInterval,
	)

	if err := a.Refresh(ctx); err != nil {
		slog.Warn("pricing: refresh failed", "err", err)
	}

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pricing: refresh loop stopped")
			return nil
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil {
				slog.Warn("pricing: refresh failed", "err", err)
			}
		}
	}
}

// Refresh pide todas las cotizaciones configuradas y actualiza la caché.
// Los fallos individuales se registran y se ignoran: la entrada anterior
// sigue en caché hasta que caduque por TTL.
func (a *Aggregator) Refresh(ctx context.Context) error {
	keys := make([]domain.QuoteKey, 0, len(a.cfg.Symbols)*len(a.cfg.Venues))
	for _, s := range a.cfg.Symbols {
		for _, v := range a.cfg.Venues {
			keys = append(keys, domain.QuoteKey{SymbolPair: s, Venue: v})
		}
	}
	if len(keys) == 0 {
		return nil
	}

	results := fetchQuotesConcurrent(ctx, a.source, keys, a.cfg.Workers)

	fresh := make([]domain.PriceQuote, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			a.quoteError(r.key.Venue)
			slog.Debug("pricing: quote fetch failed",
				"symbol", r.key.SymbolPair, "venue", r.key.Venue, "err", r.err)
			continue
		}
		q := r.quote
		if q.SymbolPair == "" {
			q.SymbolPair = r.key.SymbolPair
		}
		if q.Venue == "" {
			q.Venue = r.key.Venue
		}
		if q.ObservedAt.IsZero() {
			q.ObservedAt = a.now()
		}
		if !q.Valid() {
			failed++
			a.quoteError(r.key.Venue)
			slog.Debug("pricing: invalid quote dropped",
				"symbol", q.SymbolPair, "venue", q.Venue, "price", q.Price)
			continue
		}
		fresh = append(fresh, q)
	}

	a.mu.Lock()
	for _, q := range fresh {
		a.cache[q.Key()] = q
	}
	evicted := a.evictLocked()
	a.lastRefresh = a.now()
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.QuotesRefreshed.Add(float64(len(fresh)))
	}
	slog.Debug("pricing: refresh complete",
		"fetched", len(fresh), "failed", failed, "evicted", evicted)

	if a.publisher != nil && len(fresh) > 0 {
		if err := a.publisher.PublishQuotes(ctx, fresh); err != nil {
			slog.Warn("pricing: publish quotes failed", "err", err)
		}
	}

	if len(fresh) == 0 {
		return fmt.Errorf("pricing.Refresh: %w (%d failures)", ErrNoQuotes, failed)
	}
	return nil
}

// evictLocked expulsa las entradas más antiguas hasta respetar MaxEntries.
func (a *Aggregator) evictLocked() int {
	over := len(a.cache) - a.cfg.MaxEntries
	if over <= 0 {
		return 0
	}
	all := make([]domain.PriceQuote, 0, len(a.cache))
	for _, q := range a.cache {
		all = append(all, q)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ObservedAt.Before(all[j].ObservedAt) })
	for _, q := range all[:over] {
		delete(a.cache, q.Key())
	}
	return over
}

// Snapshot devuelve las cotizaciones frescas de los símbolos pedidos
// (todos si symbols está vacío). Las que superan el TTL se excluyen.
func (a *Aggregator) Snapshot(symbols []string) domain.Snapshot {
	var want map[string]bool
	if len(symbols) > 0 {
		want = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			want[s] = true
		}
	}

	now := a.now()
	snap := make(domain.Snapshot)

	a.mu.RLock()
	defer a.mu.RUnlock()
	for k, q := range a.cache {
		if want != nil && !want[k.SymbolPair] {
			continue
		}
		if q.Age(now) > a.cfg.TTL {
			continue
		}
		snap.Add(q)
	}
	return snap
}

// LastRefresh devuelve el momento de la última ronda de refresco.
func (a *Aggregator) LastRefresh() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastRefresh
}

// Len devuelve el número de entradas en caché (frescas o no).
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

func (a *Aggregator) quoteError(venue string) {
	if a.metrics != nil {
		a.metrics.QuoteErrors.WithLabelValues(venue).Inc()
	}
}
