package domain

import (
	"errors"
	"fmt"
	"time"
)

// WorkerCategory agrupa los workers por función dentro de la flota.
type WorkerCategory string

const (
	CategoryCoordinator WorkerCategory = "coordinator"
	CategoryPricing     WorkerCategory = "pricing"
	CategoryTrading     WorkerCategory = "trading"
	CategoryMonitoring  WorkerCategory = "monitoring"
)

// Valid devuelve true si la categoría es una de las conocidas.
func (c WorkerCategory) Valid() bool {
	switch c {
	case CategoryCoordinator, CategoryPricing, CategoryTrading, CategoryMonitoring:
		return true
	}
	return false
}

// LaunchSpec describe cómo arrancar el proceso de un worker.
// Es opaco para el Supervisor: solo el ProcessLauncher lo interpreta.
type LaunchSpec struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
	Dir     string            `json:"dir,omitempty" yaml:"dir"`
}

// RestartPolicy limita cuántas veces se reinicia un worker y con qué espera.
type RestartPolicy struct {
	MaxRestarts int           `json:"max_restarts"`
	Backoff     time.Duration `json:"backoff"`
}

// BackoffFor devuelve la espera antes del reinicio número n (0-based),
// duplicando Backoff en cada intento hasta un techo de maxBackoff.
func (p RestartPolicy) BackoffFor(n int, maxBackoff time.Duration) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	wait := p.Backoff
	for i := 0; i < n; i++ {
		wait *= 2
		if maxBackoff > 0 && wait >= maxBackoff {
			return maxBackoff
		}
	}
	return wait
}

// WorkerDefinition es la declaración estática de un worker. Inmutable tras el registro.
type WorkerDefinition struct {
	Name       string         `json:"name"`
	Category   WorkerCategory `json:"category"`
	Priority   int            `json:"priority"` // menor = arranca antes
	Launch     LaunchSpec     `json:"launch"`
	Address    string         `json:"address"` // host:port donde el worker sirve HTTP
	HealthPath string         `json:"health_path"`
	Required   bool           `json:"required"`
	Restart    RestartPolicy  `json:"restart"`
}

// ErrInvalidDefinition se devuelve cuando una definición no se puede registrar.
var ErrInvalidDefinition = errors.New("invalid worker definition")

// Validate comprueba los campos obligatorios de la definición.
func (d WorkerDefinition) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	case d.Address == "":
		return fmt.Errorf("%w: %s: empty address", ErrInvalidDefinition, d.Name)
	case d.Launch.Command == "":
		return fmt.Errorf("%w: %s: empty launch command", ErrInvalidDefinition, d.Name)
	case d.Category != "" && !d.Category.Valid():
		return fmt.Errorf("%w: %s: unknown category %q", ErrInvalidDefinition, d.Name, d.Category)
	case d.Restart.MaxRestarts < 0:
		return fmt.Errorf("%w: %s: negative max restarts", ErrInvalidDefinition, d.Name)
	}
	return nil
}

// HealthURL construye la URL del endpoint de salud del worker.
func (d WorkerDefinition) HealthURL() string {
	path := d.HealthPath
	if path == "" {
		path = "/health"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return "http://" + d.Address + path
}

// WorkerStatus es el estado de ciclo de vida de un worker.
type WorkerStatus string

const (
	WorkerStarting  WorkerStatus = "STARTING"
	WorkerRunning   WorkerStatus = "RUNNING"
	WorkerUnhealthy WorkerStatus = "UNHEALTHY"
	WorkerStopped   WorkerStatus = "STOPPED"
	WorkerFailed    WorkerStatus = "FAILED"
)

// HealthStatus es el resultado de una única sonda de salud.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthTimeout   HealthStatus = "TIMEOUT"
	HealthRefused   HealthStatus = "UNREACHABLE"
)

// OK devuelve true solo para HealthHealthy.
func (h HealthStatus) OK() bool { return h == HealthHealthy }

// WorkerRuntimeState es el estado mutable de un worker. Solo lo modifica el Supervisor.
type WorkerRuntimeState struct {
	Name                string       `json:"name"`
	Status              WorkerStatus `json:"status"`
	PID                 int          `json:"pid,omitempty"`
	Adopted             bool         `json:"adopted,omitempty"` // ya estaba sirviendo, no lo lanzamos
	LastHealthCheck     time.Time    `json:"last_health_check"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	RestartCount        int          `json:"restart_count"`
	CPUPercent          float64      `json:"cpu_percent"`
	MemPercent          float64      `json:"mem_percent"`
	Exhausted           bool         `json:"exhausted,omitempty"` // presupuesto de reinicios agotado
	LastError           string       `json:"last_error,omitempty"`
}

// Healthy devuelve true si el worker está corriendo y respondiendo.
func (s WorkerRuntimeState) Healthy() bool {
	return s.Status == WorkerRunning
}

// Stale devuelve true si la última sonda es más antigua que maxAge.
func (s WorkerRuntimeState) Stale(now time.Time, maxAge time.Duration) bool {
	if s.LastHealthCheck.IsZero() {
		return true
	}
	return now.Sub(s.LastHealthCheck) > maxAge
}
