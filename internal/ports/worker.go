package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

// ProcessHandle es un proceso lanzado por el ProcessLauncher.
type ProcessHandle interface {
	// PID devuelve el identificador del proceso (0 si no aplica).
	PID() int
	// Done se cierra cuando el proceso termina. Permite detectar salidas
	// inesperadas sin hacer polling.
	Done() <-chan struct{}
	// ExitErr devuelve el error de salida; solo es válido tras cerrarse Done.
	ExitErr() error
}

// ProcessLauncher arranca y detiene procesos de workers.
type ProcessLauncher interface {
	Launch(ctx context.Context, spec domain.LaunchSpec) (ProcessHandle, error)
	IsAlive(h ProcessHandle) bool
	// Terminate pide una parada limpia y fuerza la salida si no ocurre en grace.
	Terminate(h ProcessHandle, grace time.Duration) error
}

// HealthProber hace una sonda de salud acotada en tiempo.
type HealthProber interface {
	Probe(ctx context.Context, def domain.WorkerDefinition) domain.HealthStatus
}

// ResourceSampler mide el consumo de CPU y memoria de un proceso.
type ResourceSampler interface {
	Sample(ctx context.Context, pid int) (cpuPercent, memPercent float64, err error)
	// Forget descarta lo que el sampler guarde del pid tras la salida del proceso.
	Forget(pid int)
}

// StateObserver recibe el estado de un worker tras cada sonda o cambio relevante.
type StateObserver interface {
	Observe(state domain.WorkerRuntimeState)
}

// WorkerController es la superficie del Supervisor que usa la recuperación.
type WorkerController interface {
	Definition(name string) (domain.WorkerDefinition, bool)
	State(name string) (domain.WorkerRuntimeState, bool)
	Restart(ctx context.Context, name string) error
	Recreate(ctx context.Context, name string) error
	MarkExhausted(name string) bool
}
