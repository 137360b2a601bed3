// Package health implementa ports.HealthProber con un GET HTTP al endpoint de
// salud del worker.
package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Prober hace sondas HTTP acotadas en tiempo. 2xx = HEALTHY.
type Prober struct {
	http    *http.Client
	timeout time.Duration
}

// NewProber crea un Prober. timeout <= 0 usa 5s.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Prober{
		// sin Timeout en el cliente: el límite lo pone el contexto de cada sonda
		http:    &http.Client{},
		timeout: timeout,
	}
}

// Probe consulta def.HealthURL() y clasifica el resultado.
func (p *Prober) Probe(ctx context.Context, def domain.WorkerDefinition) domain.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, def.HealthURL(), nil)
	if err != nil {
		slog.Debug("health: bad request", "worker", def.Name, "err", err)
		return domain.HealthRefused
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return domain.HealthHealthy
	}
	slog.Debug("health: non-2xx", "worker", def.Name, "status", resp.StatusCode)
	return domain.HealthUnhealthy
}

func classify(err error) domain.HealthStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.HealthTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.HealthTimeout
	}
	return domain.HealthRefused
}
