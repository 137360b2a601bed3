// Package pricefeed implementa ports.PriceSource: un cliente HTTP contra un
// proveedor de cotizaciones y un fixture determinista para pruebas y paper.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Por debajo del límite publicado de la mayoría de agregadores (10 req/s).
	defaultRatePerSec = 6
	defaultBurst      = 3

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// ErrNoQuote se devuelve cuando el proveedor no cotiza el par en ese venue.
var ErrNoQuote = errors.New("no quote for symbol on venue")

// quoteResponse es el payload JSON de GET /quote.
type quoteResponse struct {
	SymbolPair string          `json:"symbol_pair"`
	Venue      string          `json:"venue"`
	Price      decimal.Decimal `json:"price"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
	ObservedAt time.Time       `json:"observed_at"`
	Confidence *float64        `json:"confidence"`
}

// Client es el cliente HTTP del proveedor de precios con rate limiting y retries.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
	sleep   func(ctx context.Context, attempt int)
}

// NewClient crea un Client contra base. ratePerSec <= 0 usa el límite por defecto.
func NewClient(base string, ratePerSec float64) *Client {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), defaultBurst),
		sleep:   backoff,
	}
}

// GetQuote implementa ports.PriceSource.
func (c *Client) GetQuote(ctx context.Context, symbol, venue string) (domain.PriceQuote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("venue", venue)

	var out quoteResponse
	if err := c.get(ctx, c.base+"/quote?"+q.Encode(), &out); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("pricefeed.GetQuote %s@%s: %w", symbol, venue, err)
	}

	quote := domain.PriceQuote{
		SymbolPair: symbol,
		Venue:      venue,
		Price:      out.Price,
		Liquidity:  out.Liquidity,
		Volume24h:  out.Volume24h,
		ObservedAt: out.ObservedAt,
		Confidence: 1,
	}
	if out.Confidence != nil {
		quote.Confidence = *out.Confidence
	}
	return quote, nil
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429 y 5xx se reintentan; 404 es ErrNoQuote; otros 4xx fallan sin reintento.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("pricefeed: rate limited by provider", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return ErrNoQuote
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// backoff espera 2^attempt × baseRetryWait, respetando el contexto.
func backoff(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
