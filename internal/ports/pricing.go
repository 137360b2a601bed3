package ports

import (
	"context"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// PriceSource devuelve la cotización actual de un par en un venue.
// Puede ser un proveedor real o un fixture determinista; el agregador no distingue.
type PriceSource interface {
	GetQuote(ctx context.Context, symbol, venue string) (domain.PriceQuote, error)
}

// QuotePublisher replica las últimas cotizaciones para otros workers de la flota.
type QuotePublisher interface {
	PublishQuotes(ctx context.Context, quotes []domain.PriceQuote) error
}
