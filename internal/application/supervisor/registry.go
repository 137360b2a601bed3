package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

var (
	ErrDuplicateWorker = errors.New("worker already registered")
	ErrUnknownWorker   = errors.New("worker not registered")
)

// Registry es el conjunto declarativo de workers. Se construye una vez al arrancar
// desde la configuración y se pasa explícitamente al Supervisor.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]domain.WorkerDefinition
}

// NewRegistry crea un registro vacío.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]domain.WorkerDefinition)}
}

// NewRegistryFrom crea un registro con todas las definiciones dadas.
func NewRegistryFrom(defs []domain.WorkerDefinition) (*Registry, error) {
	r := NewRegistry()
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register añade una definición. Los nombres son únicos.
func (r *Registry) Register(def domain.WorkerDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("registry.Register: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("registry.Register: %w: %s", ErrDuplicateWorker, def.Name)
	}
	if def.Category == "" {
		def.Category = domain.CategoryMonitoring
	}
	r.defs[def.Name] = def
	return nil
}

// Remove elimina la definición; devuelve false si no existía.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[name]; !ok {
		return false
	}
	delete(r.defs, name)
	return true
}

// Get devuelve la definición registrada con ese nombre.
func (r *Registry) Get(name string) (domain.WorkerDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// List devuelve las definiciones ordenadas por prioridad y luego por nombre.
func (r *Registry) List() []domain.WorkerDefinition {
	r.mu.RLock()
	out := make([]domain.WorkerDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Tiers agrupa las definiciones por prioridad, en orden de arranque.
func (r *Registry) Tiers() [][]domain.WorkerDefinition {
	var tiers [][]domain.WorkerDefinition
	for _, d := range r.List() {
		n := len(tiers)
		if n == 0 || tiers[n-1][0].Priority != d.Priority {
			tiers = append(tiers, []domain.WorkerDefinition{d})
			continue
		}
		tiers[n-1] = append(tiers[n-1], d)
	}
	return tiers
}

// Len devuelve el número de workers registrados.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
