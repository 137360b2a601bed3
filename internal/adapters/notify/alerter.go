package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// alertSink es la parte del TradeStore que guarda alertas.
type alertSink interface {
	SaveAlert(ctx context.Context, alert domain.Alert) error
}

// Alerter implementa ports.Alerter: log estructurado, línea en consola y,
// si hay store, persistencia.
type Alerter struct {
	out   io.Writer
	store alertSink
}

// NewAlerter crea un Alerter. out y store pueden ser nil.
func NewAlerter(out io.Writer, store alertSink) *Alerter {
	return &Alerter{out: out, store: store}
}

// Alert registra la alerta. Un fallo al persistir solo se loguea.
func (a *Alerter) Alert(ctx context.Context, alert domain.Alert) {
	attrs := []any{
		"kind", alert.Kind,
		"worker", alert.Worker,
		"message", alert.Message,
	}
	if alert.Severity == domain.SeverityCritical {
		slog.Error("alert: critical", attrs...)
	} else {
		slog.Warn("alert: warning", attrs...)
	}

	if a.out != nil {
		fmt.Fprintf(a.out, "[%s] ⚠ %s %s %s: %s\n",
			alert.At.Format("15:04:05"), alert.Severity, alert.Kind, alert.Worker, alert.Message)
	}

	if a.store != nil {
		if err := a.store.SaveAlert(context.WithoutCancel(ctx), alert); err != nil {
			slog.Warn("alert: persist failed", "kind", alert.Kind, "worker", alert.Worker, "err", err)
		}
	}
}
