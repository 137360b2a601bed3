package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrSlippage se devuelve cuando el fill simulado queda por debajo de MinSellPrice.
var ErrSlippage = errors.New("fill below minimum sell price")

// PaperConfig configura la simulación.
type PaperConfig struct {
	GasCost     decimal.Decimal // coste fijo por trade
	SlippageBps int64           // el fill de venta se degrada estos puntos básicos
	Latency     time.Duration   // tiempo simulado de confirmación
}

// Paper simula ejecuciones sin tocar la cadena.
type Paper struct {
	cfg PaperConfig
	now func() time.Time
}

// NewPaper crea un venue simulado.
func NewPaper(cfg PaperConfig) *Paper {
	return &Paper{cfg: cfg, now: time.Now}
}

// Execute rellena la orden a SellPrice menos el slippage configurado.
func (p *Paper) Execute(ctx context.Context, order domain.TradeOrder) (domain.ExecutionReceipt, error) {
	if p.cfg.Latency > 0 {
		t := time.NewTimer(p.cfg.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return domain.ExecutionReceipt{}, ctx.Err()
		case <-t.C:
		}
	}

	factor := decimal.NewFromInt(10000 - p.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	fill := order.SellPrice.Mul(factor)
	if !order.MinSellPrice.IsZero() && fill.LessThan(order.MinSellPrice) {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Paper: %w: %s < %s",
			ErrSlippage, fill.StringFixed(6), order.MinSellPrice.StringFixed(6))
	}

	ref := order.ID
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return domain.ExecutionReceipt{
		TxReference:  fmt.Sprintf("paper-%s-%d", ref, p.now().UnixMilli()),
		GasCost:      p.cfg.GasCost,
		ActualProfit: fill.Sub(order.BuyPrice).Mul(order.Amount).Sub(p.cfg.GasCost),
	}, nil
}
