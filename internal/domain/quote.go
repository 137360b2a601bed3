package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote es una cotización de un par en un venue. Inmutable una vez creada;
// una cotización más nueva para el mismo (SymbolPair, Venue) la reemplaza.
type PriceQuote struct {
	SymbolPair string          `json:"symbol_pair"`
	Venue      string          `json:"venue"`
	Price      decimal.Decimal `json:"price"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	Volume24h  decimal.Decimal `json:"volume_24h"`
	ObservedAt time.Time       `json:"observed_at"`
	Confidence float64         `json:"confidence"` // 0.0 – 1.0, lo decide la fuente
}

// Valid devuelve true si la cotización se puede usar para detectar oportunidades.
func (q PriceQuote) Valid() bool {
	return q.SymbolPair != "" && q.Venue != "" && q.Price.IsPositive() &&
		q.Confidence >= 0 && q.Confidence <= 1
}

// Age devuelve la antigüedad de la cotización respecto a now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// QuoteKey identifica una entrada de la caché de cotizaciones.
type QuoteKey struct {
	SymbolPair string
	Venue      string
}

// Key devuelve la clave de caché de la cotización.
func (q PriceQuote) Key() QuoteKey {
	return QuoteKey{SymbolPair: q.SymbolPair, Venue: q.Venue}
}

// Snapshot es la vista de precios que consume el detector: symbol → venue → quote.
type Snapshot map[string]map[string]PriceQuote

// Add inserta una cotización en el snapshot.
func (s Snapshot) Add(q PriceQuote) {
	venues, ok := s[q.SymbolPair]
	if !ok {
		venues = make(map[string]PriceQuote)
		s[q.SymbolPair] = venues
	}
	venues[q.Venue] = q
}

// Len devuelve el número total de cotizaciones en el snapshot.
func (s Snapshot) Len() int {
	n := 0
	for _, venues := range s {
		n += len(venues)
	}
	return n
}
