package process

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ps "github.com/shirou/gopsutil/process"
)

// Sampler implementa ports.ResourceSampler con gopsutil.
//
// Guarda un *ps.Process por pid: el %CPU se mide entre dos muestras
// consecutivas, no sobre toda la vida del proceso.
type Sampler struct {
	mu    sync.Mutex
	procs map[int]*ps.Process
}

// NewSampler crea un Sampler.
func NewSampler() *Sampler {
	return &Sampler{procs: make(map[int]*ps.Process)}
}

// Sample devuelve el %CPU (0–100 sobre todas las CPUs) desde la muestra anterior
// y el %memoria del proceso pid. La primera muestra de un pid devuelve CPU 0.
func (s *Sampler) Sample(ctx context.Context, pid int) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[pid]
	if !ok {
		var err error
		p, err = ps.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			return 0, 0, fmt.Errorf("process.Sample: pid %d: %w", pid, err)
		}
		s.procs[pid] = p
	}

	cpu, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		delete(s.procs, pid)
		return 0, 0, fmt.Errorf("process.Sample: cpu pid %d: %w", pid, err)
	}
	mem, err := p.MemoryPercentWithContext(ctx)
	if err != nil {
		delete(s.procs, pid)
		return 0, 0, fmt.Errorf("process.Sample: mem pid %d: %w", pid, err)
	}
	return cpu / float64(runtime.NumCPU()), float64(mem), nil
}

// Forget descarta el estado de pid; se llama cuando el proceso termina para
// que un pid reutilizado no herede la muestra anterior.
func (s *Sampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
}
