package ports

import (
	"context"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// Alerter presenta alertas terminales a los operadores.
type Alerter interface {
	Alert(ctx context.Context, alert domain.Alert)
}
