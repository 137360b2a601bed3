// Package detector busca diferencias de precio del mismo par entre venues.
package detector

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Config contiene los parámetros de detección. Se usa tal cual: un cero es un
// cero (MinSpreadPct 0 acepta cualquier spread positivo, TopN 0 no trunca).
type Config struct {
	MinSpreadPct      decimal.Decimal // spread mínimo en %
	TopN              int             // candidatos retenidos por ciclo
	GasCost           decimal.Decimal // coste fijo estimado por trade
	TradeCeiling      decimal.Decimal // techo del tamaño de trade
	LiquidityFraction decimal.Decimal // fracción de la liquidez del venue de compra
	MinTradeAmount    decimal.Decimal // límite inferior del rango de notional estimado
}

// DefaultConfig devuelve los valores por defecto.
func DefaultConfig() Config {
	return Config{
		MinSpreadPct:      decimal.RequireFromString("0.1"),
		TopN:              20,
		GasCost:           decimal.Zero,
		TradeCeiling:      decimal.NewFromInt(10000),
		LiquidityFraction: decimal.RequireFromString("0.10"),
		MinTradeAmount:    decimal.NewFromInt(10),
	}
}

// Detector es stateless: cada llamada a Detect recalcula todo desde el snapshot.
type Detector struct {
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// New crea un Detector.
func New(cfg Config, m *metrics.Metrics) *Detector {
	return &Detector{cfg: cfg, metrics: m, now: time.Now}
}

// GasCost devuelve el coste de gas estimado que se descuenta a cada candidato.
func (d *Detector) GasCost() decimal.Decimal { return d.cfg.GasCost }

// Detect enumera todos los pares de venues por símbolo y devuelve los candidatos
// rentables, ordenados por beneficio neto × confianza (desc) y truncados a TopN.
func (d *Detector) Detect(snap domain.Snapshot) []domain.ArbitrageCandidate {
	now := d.now()
	var out []domain.ArbitrageCandidate
	best := make(map[string]decimal.Decimal)

	for symbol, venues := range snap {
		if len(venues) < 2 {
			continue
		}
		quotes := make([]domain.PriceQuote, 0, len(venues))
		for _, q := range venues {
			quotes = append(quotes, q)
		}
		sort.Slice(quotes, func(i, j int) bool { return quotes[i].Venue < quotes[j].Venue })

		for i := 0; i < len(quotes); i++ {
			for j := i + 1; j < len(quotes); j++ {
				c, ok := d.evaluate(quotes[i], quotes[j], now)
				if !ok {
					continue
				}
				if cur, seen := best[symbol]; !seen || c.SpreadPct.GreaterThan(cur) {
					best[symbol] = c.SpreadPct
				}
				out = append(out, c)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].RankScore(), out[j].RankScore()
		if !si.Equal(sj) {
			return si.GreaterThan(sj)
		}
		if out[i].SymbolPair != out[j].SymbolPair {
			return out[i].SymbolPair < out[j].SymbolPair
		}
		return out[i].VenuePair() < out[j].VenuePair()
	})
	if d.cfg.TopN > 0 && len(out) > d.cfg.TopN {
		out = out[:d.cfg.TopN]
	}

	if d.metrics != nil {
		d.metrics.Candidates.Set(float64(len(out)))
		for symbol, spread := range best {
			f, _ := spread.Float64()
			d.metrics.BestSpreadPct.WithLabelValues(symbol).Set(f)
		}
	}
	slog.Debug("detector: cycle complete", "symbols", len(snap), "candidates", len(out))
	return out
}

// evaluate construye el candidato para un par de cotizaciones del mismo símbolo.
func (d *Detector) evaluate(a, b domain.PriceQuote, now time.Time) (domain.ArbitrageCandidate, bool) {
	buy, sell := a, b
	if b.Price.LessThan(a.Price) {
		buy, sell = b, a
	}
	if !buy.Price.IsPositive() || !sell.Price.GreaterThan(buy.Price) {
		return domain.ArbitrageCandidate{}, false
	}

	spread := sell.Price.Sub(buy.Price)
	spreadPct := spread.Div(buy.Price).Mul(hundred)
	if spreadPct.LessThan(d.cfg.MinSpreadPct) {
		return domain.ArbitrageCandidate{}, false
	}

	capped := decimal.Min(buy.Liquidity.Mul(d.cfg.LiquidityFraction), d.cfg.TradeCeiling)
	if !capped.IsPositive() {
		return domain.ArbitrageCandidate{}, false
	}
	net := spread.Mul(capped).Sub(d.cfg.GasCost)
	if !net.IsPositive() {
		return domain.ArbitrageCandidate{}, false
	}

	return domain.ArbitrageCandidate{
		SymbolPair: buy.SymbolPair,
		BuyVenue:   buy.Venue,
		SellVenue:  sell.Venue,
		BuyPrice:   buy.Price,
		SellPrice:  sell.Price,
		SpreadPct:  spreadPct,
		EstimatedNotional: domain.NotionalRange{
			Min: decimal.Min(d.cfg.MinTradeAmount, capped),
			Max: capped,
		},
		EstimatedGasCost:   d.cfg.GasCost,
		EstimatedNetProfit: net,
		ConfidenceScore:    math.Min(buy.Confidence, sell.Confidence),
		DetectedAt:         now,
	}, true
}
