package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotionalRange es el rango de tamaño de trade estimado para un candidato.
type NotionalRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// ArbitrageCandidate es una oportunidad detectada entre dos venues para el mismo par.
// Se deriva de dos PriceQuote y se recalcula en cada ciclo; no se persiste.
//
// Por construcción SellPrice > BuyPrice.
type ArbitrageCandidate struct {
	SymbolPair         string          `json:"symbol_pair"`
	BuyVenue           string          `json:"buy_venue"`
	SellVenue          string          `json:"sell_venue"`
	BuyPrice           decimal.Decimal `json:"buy_price"`
	SellPrice          decimal.Decimal `json:"sell_price"`
	SpreadPct          decimal.Decimal `json:"spread_pct"`
	EstimatedNotional  NotionalRange   `json:"estimated_notional"`
	EstimatedGasCost   decimal.Decimal `json:"estimated_gas_cost"`
	EstimatedNetProfit decimal.Decimal `json:"estimated_net_profit"`
	ConfidenceScore    float64         `json:"confidence_score"`
	DetectedAt         time.Time       `json:"detected_at"`
}

// Spread devuelve la diferencia absoluta de precio por unidad.
func (c ArbitrageCandidate) Spread() decimal.Decimal {
	return c.SellPrice.Sub(c.BuyPrice)
}

// ExpectedProfit estima el beneficio neto de ejecutar amount unidades:
// spread × amount − gas.
func (c ArbitrageCandidate) ExpectedProfit(amount decimal.Decimal) decimal.Decimal {
	return c.Spread().Mul(amount).Sub(c.EstimatedGasCost)
}

// RankScore es la clave de ordenación: beneficio neto ponderado por confianza.
func (c ArbitrageCandidate) RankScore() decimal.Decimal {
	return c.EstimatedNetProfit.Mul(decimal.NewFromFloat(c.ConfidenceScore))
}

// VenuePair devuelve la etiqueta "buy->sell" usada en estadísticas.
func (c ArbitrageCandidate) VenuePair() string {
	return c.BuyVenue + "->" + c.SellVenue
}
