package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// TradeStore persiste las órdenes terminales y las alertas.
type TradeStore interface {
	// SaveOrder hace upsert de una orden por ID.
	SaveOrder(ctx context.Context, order domain.TradeOrder) error

	// GetOrders devuelve las órdenes creadas en el rango dado, más recientes primero.
	GetOrders(ctx context.Context, from, to time.Time) ([]domain.TradeOrder, error)

	// SaveAlert registra una alerta terminal.
	SaveAlert(ctx context.Context, alert domain.Alert) error

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

// SnapshotStore guarda y recupera el snapshot JSON de trading.
type SnapshotStore interface {
	Save(ctx context.Context, snap domain.TradeSnapshot) error
	// Load devuelve ok=false si todavía no existe ningún snapshot.
	Load(ctx context.Context) (snap domain.TradeSnapshot, ok bool, err error)
}
