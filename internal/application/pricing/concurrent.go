package pricing

// concurrent.go: worker pool para pedir cotizaciones en paralelo.
//
// Con N símbolos × M venues una ronda secuencial tarda N·M·latencia; con el pool
// queda acotada por la latencia del venue más lento y el rate limit de la fuente.

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
)

type fetchResult struct {
	key   domain.QuoteKey
	quote domain.PriceQuote
	err   error
}

// fetchQuotesConcurrent pide todas las combinaciones (symbol, venue) usando un
// worker pool. Si workers <= 0 usa runtime.NumCPU() × 2.
func fetchQuotesConcurrent(
	ctx context.Context,
	source ports.PriceSource,
	keys []domain.QuoteKey,
	workers int,
) []fetchResult {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > len(keys) {
		workers = len(keys)
	}

	workCh := make(chan domain.QuoteKey, len(keys))
	resultCh := make(chan fetchResult, len(keys))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range workCh {
				if ctx.Err() != nil {
					resultCh <- fetchResult{key: k, err: ctx.Err()}
					continue
				}
				q, err := source.GetQuote(ctx, k.SymbolPair, k.Venue)
				resultCh <- fetchResult{key: k, quote: q, err: err}
			}
		}()
	}

	for _, k := range keys {
		workCh <- k
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]fetchResult, 0, len(keys))
	for r := range resultCh {
		results = append(results, r)
	}

	slog.Debug("pricing: concurrent fetch complete",
		"requested", len(keys),
		"workers", workers,
	)
	return results
}
