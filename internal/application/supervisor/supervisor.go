package supervisor

// supervisor.go: ciclo de vida de los workers de la flota.
//
// Flujo:
//   - StartAll arranca por tiers de prioridad (stagger entre tiers), adoptando
//     workers que ya responden en su dirección en vez de lanzarlos dos veces.
//   - Cada proceso lanzado tiene una goroutine que espera su salida (Done):
//     una salida inesperada lo marca FAILED al instante, sin esperar al health loop.
//   - Run ejecuta el health loop; tras cada sonda se entrega el estado al observer
//     (RecoveryCoordinator), que decide si reiniciar.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
)

var (
	ErrNotReady               = errors.New("worker never became reachable")
	ErrProcessExited          = errors.New("worker process exited during startup")
	ErrRolledBack             = errors.New("worker stopped: startup rolled back")
	ErrStartAborted           = errors.New("worker not started: startup aborted")
	ErrRestartBudgetExhausted = errors.New("restart budget exhausted")
	ErrBusy                   = errors.New("worker is being restarted")
)

// Config controla tiempos y umbrales del Supervisor.
type Config struct {
	HealthInterval   time.Duration
	FailureThreshold int
	TierStagger      time.Duration
	StartupProbes    int
	StartupBackoff   time.Duration
	StopGrace        time.Duration
	MaxBackoff       time.Duration
}

// DefaultConfig devuelve los valores por defecto.
func DefaultConfig() Config {
	return Config{
		HealthInterval:   30 * time.Second,
		FailureThreshold: 3,
		TierStagger:      5 * time.Second,
		StartupProbes:    3,
		StartupBackoff:   500 * time.Millisecond,
		StopGrace:        10 * time.Second,
		MaxBackoff:       5 * time.Minute,
	}
}

type worker struct {
	state    domain.WorkerRuntimeState
	handle   ports.ProcessHandle
	gen      int  // se incrementa en cada lanzamiento; descarta watchers viejos
	stopping bool // la salida del proceso es esperada
	busy     bool // restart en curso
}

// Supervisor posee el estado de runtime de todos los workers registrados.
type Supervisor struct {
	cfg      Config
	registry *Registry
	launcher ports.ProcessLauncher
	prober   ports.HealthProber
	sampler  ports.ResourceSampler
	metrics  *metrics.Metrics

	mu       sync.Mutex
	workers  map[string]*worker
	observer ports.StateObserver

	now func() time.Time
}

// New crea un Supervisor para los workers ya presentes en registry.
// sampler puede ser nil (sin métricas de CPU/memoria).
func New(
	cfg Config,
	registry *Registry,
	launcher ports.ProcessLauncher,
	prober ports.HealthProber,
	sampler ports.ResourceSampler,
	m *metrics.Metrics,
) *Supervisor {
	d := DefaultConfig()
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = d.HealthInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.StartupProbes <= 0 {
		cfg.StartupProbes = d.StartupProbes
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}

	s := &Supervisor{
		cfg:      cfg,
		registry: registry,
		launcher: launcher,
		prober:   prober,
		sampler:  sampler,
		metrics:  m,
		workers:  make(map[string]*worker),
		now:      time.Now,
	}
	for _, def := range registry.List() {
		s.workers[def.Name] = newWorker(def.Name)
	}
	return s
}

func newWorker(name string) *worker {
	return &worker{state: domain.WorkerRuntimeState{Name: name, Status: domain.WorkerStopped}}
}

// SetObserver instala quien recibe los estados tras cada sonda. Llamar antes de Run.
func (s *Supervisor) SetObserver(o ports.StateObserver) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Register añade un worker al registro y crea su estado de runtime (STOPPED).
func (s *Supervisor) Register(def domain.WorkerDefinition) error {
	if err := s.registry.Register(def); err != nil {
		return err
	}
	s.mu.Lock()
	s.workers[def.Name] = newWorker(def.Name)
	s.mu.Unlock()
	return nil
}

// Unregister detiene el worker y elimina su definición y su estado.
// Es la vía manual para volver a registrar un worker con el presupuesto agotado.
func (s *Supervisor) Unregister(name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.workers, name)
	s.mu.Unlock()
	s.registry.Remove(name)
	return nil
}

// Reregister vuelve a registrar un worker con su misma definición: lo detiene,
// descarta su estado (presupuesto incluido) y lo deja en STOPPED.
func (s *Supervisor) Reregister(name string) error {
	def, ok := s.registry.Get(name)
	if !ok {
		return fmt.Errorf("supervisor.Reregister: %w: %s", ErrUnknownWorker, name)
	}
	if err := s.Unregister(name); err != nil {
		return fmt.Errorf("supervisor.Reregister: %w", err)
	}
	if err := s.Register(def); err != nil {
		return fmt.Errorf("supervisor.Reregister: %w", err)
	}
	slog.Info("supervisor: worker re-registered", "worker", name)
	return nil
}

// Start arranca (o adopta) un único worker registrado.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	def, ok := s.registry.Get(name)
	if !ok {
		return fmt.Errorf("supervisor.Start: %w: %s", ErrUnknownWorker, name)
	}
	return s.start(ctx, def)
}

// Definition devuelve la definición registrada.
func (s *Supervisor) Definition(name string) (domain.WorkerDefinition, bool) {
	return s.registry.Get(name)
}

// State devuelve una copia del estado de runtime de un worker.
func (s *Supervisor) State(name string) (domain.WorkerRuntimeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return domain.WorkerRuntimeState{}, false
	}
	return w.state, true
}

// Status devuelve una copia del estado de todos los workers.
func (s *Supervisor) Status() map[string]domain.WorkerRuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.WorkerRuntimeState, len(s.workers))
	for name, w := range s.workers {
		out[name] = w.state
	}
	return out
}

// HealthInterval expone el intervalo del health loop (para calcular staleness).
func (s *Supervisor) HealthInterval() time.Duration {
	return s.cfg.HealthInterval
}

// StartAll arranca todos los workers por orden de prioridad.
//
// Si un worker required no llega a estar disponible, aborta: detiene los que ya
// se habían arrancado (ErrRolledBack) y no intenta los tiers restantes (ErrStartAborted).
func (s *Supervisor) StartAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	tiers := s.registry.Tiers()
	var started []string
	slog.Info("supervisor: starting fleet", "workers", s.registry.Len(), "tiers", len(tiers))

	for i, tier := range tiers {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.TierStagger); err != nil {
				s.abort(results, started, tiers[i:], err)
				return results
			}
		}

		tierErrs := s.startTier(ctx, tier)

		abort := false
		for _, def := range tier {
			err := tierErrs[def.Name]
			results[def.Name] = err
			if err == nil {
				started = append(started, def.Name)
				continue
			}
			slog.Warn("supervisor: worker failed to start",
				"worker", def.Name, "required", def.Required, "err", err)
			if def.Required {
				abort = true
			}
		}

		if abort {
			s.abort(results, started, tiers[i+1:], ErrStartAborted)
			return results
		}
	}

	slog.Info("supervisor: startup complete", "workers", len(results), "started", len(started))
	return results
}

func (s *Supervisor) abort(results map[string]error, started []string, pending [][]domain.WorkerDefinition, cause error) {
	slog.Error("supervisor: startup aborted, rolling back", "started", len(started), "cause", cause)
	for _, name := range started {
		if err := s.Stop(name); err != nil {
			slog.Warn("supervisor: rollback stop failed", "worker", name, "err", err)
		}
		results[name] = ErrRolledBack
	}
	for _, tier := range pending {
		for _, def := range tier {
			if _, done := results[def.Name]; !done {
				results[def.Name] = fmt.Errorf("%w: %v", ErrStartAborted, cause)
			}
		}
	}
}

// startTier arranca en paralelo los workers de un mismo tier.
func (s *Supervisor) startTier(ctx context.Context, tier []domain.WorkerDefinition) map[string]error {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]error, len(tier))
	)
	for _, def := range tier {
		wg.Add(1)
		go func(def domain.WorkerDefinition) {
			defer wg.Done()
			err := s.start(ctx, def)
			mu.Lock()
			out[def.Name] = err
			mu.Unlock()
		}(def)
	}
	wg.Wait()
	return out
}

// start lanza (o adopta) un worker y espera a que responda.
func (s *Supervisor) start(ctx context.Context, def domain.WorkerDefinition) error {
	if s.prober.Probe(ctx, def).OK() {
		s.update(def.Name, func(w *worker) {
			w.state.Status = domain.WorkerRunning
			w.state.Adopted = true
			w.state.PID = 0
			w.state.LastHealthCheck = s.now()
			w.state.ConsecutiveFailures = 0
			w.state.LastError = ""
		})
		slog.Info("supervisor: adopted running worker", "worker", def.Name, "address", def.Address)
		s.setUp(def.Name, true)
		return nil
	}

	s.update(def.Name, func(w *worker) { w.state.Status = domain.WorkerStarting })

	h, err := s.launch(ctx, def)
	if err != nil {
		s.fail(def.Name, err)
		return fmt.Errorf("supervisor.start %s: %w", def.Name, err)
	}

	if err := s.awaitReady(ctx, def, h); err != nil {
		s.terminate(def.Name, h, s.cfg.StopGrace)
		s.fail(def.Name, err)
		return fmt.Errorf("supervisor.start %s: %w", def.Name, err)
	}

	s.markRunning(def.Name)
	slog.Info("supervisor: worker started", "worker", def.Name, "pid", h.PID())
	return nil
}

// launch arranca el proceso y engancha el watcher de salida.
func (s *Supervisor) launch(ctx context.Context, def domain.WorkerDefinition) (ports.ProcessHandle, error) {
	h, err := s.launcher.Launch(ctx, def.Launch)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	s.mu.Lock()
	w, ok := s.workers[def.Name]
	if !ok {
		// Unregister llegó mientras lanzábamos: el proceso no tiene dueño.
		s.mu.Unlock()
		if err := s.launcher.Terminate(h, s.cfg.StopGrace); err != nil {
			slog.Warn("supervisor: terminate orphan failed", "worker", def.Name, "pid", h.PID(), "err", err)
		}
		return nil, fmt.Errorf("launch: %w: %s", ErrUnknownWorker, def.Name)
	}
	w.gen++
	gen := w.gen
	w.handle = h
	w.stopping = false
	w.state.PID = h.PID()
	w.state.Adopted = false
	s.mu.Unlock()

	go s.watchExit(def.Name, gen, h)
	return h, nil
}

// awaitReady hace hasta StartupProbes sondas con backoff exponencial.
func (s *Supervisor) awaitReady(ctx context.Context, def domain.WorkerDefinition, h ports.ProcessHandle) error {
	wait := s.cfg.StartupBackoff
	for attempt := 1; attempt <= s.cfg.StartupProbes; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-h.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrProcessExited, h.ExitErr())
		case <-timer.C:
		}

		if s.prober.Probe(ctx, def).OK() {
			return nil
		}
		slog.Debug("supervisor: worker not ready yet", "worker", def.Name, "attempt", attempt)
		wait *= 2
	}
	return fmt.Errorf("%w after %d probes", ErrNotReady, s.cfg.StartupProbes)
}

// watchExit espera la salida del proceso. Una salida no pedida marca FAILED al instante.
func (s *Supervisor) watchExit(name string, gen int, h ports.ProcessHandle) {
	<-h.Done()
	if s.sampler != nil {
		s.sampler.Forget(h.PID())
	}

	s.mu.Lock()
	w, ok := s.workers[name]
	if !ok || w.gen != gen || w.stopping {
		s.mu.Unlock()
		return
	}
	w.handle = nil
	w.state.PID = 0
	w.state.Status = domain.WorkerFailed
	w.state.LastError = fmt.Sprintf("process exited: %v", h.ExitErr())
	state := w.state
	observer := s.observer
	s.mu.Unlock()

	slog.Warn("supervisor: worker exited unexpectedly", "worker", name, "err", h.ExitErr())
	s.setUp(name, false)
	if observer != nil {
		observer.Observe(state)
	}
}

// Stop detiene un worker y lo deja en STOPPED. Los workers adoptados no se matan:
// no son nuestros procesos.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	w, ok := s.workers[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("supervisor.Stop: %w: %s", ErrUnknownWorker, name)
	}
	h := w.handle
	w.stopping = true
	w.handle = nil
	w.state.Status = domain.WorkerStopped
	w.state.PID = 0
	s.mu.Unlock()

	s.setUp(name, false)
	if h == nil {
		return nil
	}
	if err := s.launcher.Terminate(h, s.cfg.StopGrace); err != nil {
		return fmt.Errorf("supervisor.Stop %s: %w", name, err)
	}
	slog.Info("supervisor: worker stopped", "worker", name)
	return nil
}

// StopAll detiene todos los workers en paralelo. Cada Terminate espera como
// mucho StopGrace antes de forzar la salida.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.Stop(name); err != nil {
				slog.Warn("supervisor: stop failed", "worker", name, "err", err)
			}
		}(name)
	}
	wg.Wait()
	slog.Info("supervisor: all workers stopped", "count", len(names))
}

// Run ejecuta el health loop hasta que se cancele el contexto.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("supervisor: health loop starting",
		"interval", s.cfg.HealthInterval,
		"failure_threshold", s.cfg.FailureThreshold,
	)
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("supervisor: health loop stopped")
			return nil
		case <-ticker.C:
			s.CheckAll(ctx)
		}
	}
}

// CheckAll sondea en paralelo a todos los workers vigilados.
func (s *Supervisor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, def := range s.registry.List() {
		if !s.watched(def.Name) {
			continue
		}
		wg.Add(1)
		go func(def domain.WorkerDefinition) {
			defer wg.Done()
			s.check(ctx, def)
		}(def)
	}
	wg.Wait()
}

// watched devuelve false para workers parados a mano, agotados o en pleno restart.
func (s *Supervisor) watched(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok || w.busy || w.state.Exhausted {
		return false
	}
	switch w.state.Status {
	case domain.WorkerStopped, domain.WorkerStarting:
		return false
	}
	return true
}

func (s *Supervisor) check(ctx context.Context, def domain.WorkerDefinition) {
	status := s.prober.Probe(ctx, def)

	var (
		cpu, mem float64
		sampled  bool
	)
	if pid := s.pid(def.Name); pid > 0 && s.sampler != nil {
		var err error
		cpu, mem, err = s.sampler.Sample(ctx, pid)
		if err != nil {
			slog.Debug("supervisor: resource sample failed", "worker", def.Name, "err", err)
		} else {
			sampled = true
		}
	}

	s.mu.Lock()
	w, ok := s.workers[def.Name]
	if !ok || w.busy || w.state.Exhausted || w.state.Status == domain.WorkerStopped {
		s.mu.Unlock()
		return
	}
	w.state.LastHealthCheck = s.now()
	if sampled {
		w.state.CPUPercent = cpu
		w.state.MemPercent = mem
	}
	if status.OK() {
		w.state.ConsecutiveFailures = 0
		w.state.LastError = ""
		if w.state.Status != domain.WorkerRunning {
			if w.handle == nil {
				w.state.Adopted = true
			}
			w.state.Status = domain.WorkerRunning
		}
	} else {
		w.state.ConsecutiveFailures++
		w.state.LastError = "health probe: " + string(status)
		if w.state.Status == domain.WorkerRunning && w.state.ConsecutiveFailures >= s.cfg.FailureThreshold {
			w.state.Status = domain.WorkerUnhealthy
			slog.Warn("supervisor: worker unhealthy",
				"worker", def.Name, "consecutive_failures", w.state.ConsecutiveFailures)
		}
	}
	state := w.state
	observer := s.observer
	s.mu.Unlock()

	if s.metrics != nil {
		s.setUp(def.Name, state.Healthy())
		if !status.OK() {
			s.metrics.HealthCheckFailures.WithLabelValues(def.Name, string(status)).Inc()
		}
		if sampled {
			s.metrics.WorkerCPU.WithLabelValues(def.Name).Set(cpu)
			s.metrics.WorkerMem.WithLabelValues(def.Name).Set(mem)
		}
	}
	if observer != nil {
		observer.Observe(state)
	}
}

// Restart para el proceso actual (con gracia), espera el backoff de la política
// y lo vuelve a lanzar. Cada intento consume presupuesto aunque el worker no
// llegue a responder; en ese caso queda UNHEALTHY y se notifica al observer.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	return s.restart(ctx, name, false)
}

// Recreate es un restart forzado: mata el proceso sin gracia y reinicia las
// métricas de runtime antes de relanzar. También consume presupuesto.
func (s *Supervisor) Recreate(ctx context.Context, name string) error {
	return s.restart(ctx, name, true)
}

func (s *Supervisor) restart(ctx context.Context, name string, recreate bool) error {
	def, ok := s.registry.Get(name)
	if !ok {
		return fmt.Errorf("supervisor.restart: %w: %s", ErrUnknownWorker, name)
	}

	s.mu.Lock()
	w, ok := s.workers[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return fmt.Errorf("supervisor.restart: %w: %s", ErrUnknownWorker, name)
	case w.state.Exhausted || w.state.RestartCount >= def.Restart.MaxRestarts:
		s.mu.Unlock()
		return fmt.Errorf("supervisor.restart %s: %w", name, ErrRestartBudgetExhausted)
	case w.busy:
		s.mu.Unlock()
		return fmt.Errorf("supervisor.restart %s: %w", name, ErrBusy)
	}
	w.busy = true
	attempt := w.state.RestartCount
	w.state.RestartCount++
	w.state.Status = domain.WorkerStarting
	if recreate {
		w.state.ConsecutiveFailures = 0
		w.state.CPUPercent = 0
		w.state.MemPercent = 0
		w.state.LastError = ""
	}
	old := w.handle
	w.stopping = true
	w.handle = nil
	s.mu.Unlock()
	defer s.update(name, func(w *worker) { w.busy = false })

	if s.metrics != nil {
		s.metrics.WorkerRestarts.WithLabelValues(name).Inc()
	}
	slog.Info("supervisor: restarting worker",
		"worker", name, "attempt", attempt+1, "max", def.Restart.MaxRestarts, "recreate", recreate)

	if old != nil {
		grace := s.cfg.StopGrace
		if recreate {
			grace = 0
		}
		if err := s.launcher.Terminate(old, grace); err != nil {
			slog.Warn("supervisor: terminate before restart failed", "worker", name, "err", err)
		}
	}

	if err := sleepCtx(ctx, def.Restart.BackoffFor(attempt, s.cfg.MaxBackoff)); err != nil {
		s.fail(name, err)
		return fmt.Errorf("supervisor.restart %s: %w", name, err)
	}

	h, err := s.launch(ctx, def)
	if err != nil {
		s.fail(name, err)
		return fmt.Errorf("supervisor.restart %s: %w", name, err)
	}

	if err := s.awaitReady(ctx, def, h); err != nil {
		// El proceso sigue vivo; el siguiente ciclo de recuperación decidirá.
		s.mu.Lock()
		w, ok := s.workers[name]
		if !ok {
			s.mu.Unlock()
			return nil
		}
		w.state.Status = domain.WorkerUnhealthy
		w.state.ConsecutiveFailures = s.cfg.FailureThreshold
		w.state.LastError = err.Error()
		state := w.state
		observer := s.observer
		s.mu.Unlock()

		slog.Warn("supervisor: restarted worker not ready", "worker", name, "err", err)
		s.setUp(name, false)
		if observer != nil {
			observer.Observe(state)
		}
		return nil
	}

	s.markRunning(name)
	slog.Info("supervisor: worker restarted", "worker", name, "pid", h.PID())
	return nil
}

// MarkExhausted marca el worker como FAILED permanente. Devuelve true solo la
// primera vez, para que la alerta terminal se emita exactamente una vez.
func (s *Supervisor) MarkExhausted(name string) bool {
	s.mu.Lock()
	w, ok := s.workers[name]
	if !ok || w.state.Exhausted {
		s.mu.Unlock()
		return false
	}
	w.state.Exhausted = true
	w.state.Status = domain.WorkerFailed
	h := w.handle
	w.stopping = true
	w.handle = nil
	s.mu.Unlock()

	s.setUp(name, false)
	if h != nil {
		if err := s.launcher.Terminate(h, s.cfg.StopGrace); err != nil {
			slog.Warn("supervisor: terminate exhausted worker failed", "worker", name, "err", err)
		}
	}
	return true
}

// --- helpers internos ---

func (s *Supervisor) update(name string, fn func(w *worker)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[name]; ok {
		fn(w)
	}
}

func (s *Supervisor) pid(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[name]; ok {
		return w.state.PID
	}
	return 0
}

func (s *Supervisor) markRunning(name string) {
	s.update(name, func(w *worker) {
		w.state.Status = domain.WorkerRunning
		w.state.LastHealthCheck = s.now()
		w.state.ConsecutiveFailures = 0
		w.state.LastError = ""
	})
	s.setUp(name, true)
}

func (s *Supervisor) fail(name string, err error) {
	s.update(name, func(w *worker) {
		w.state.Status = domain.WorkerFailed
		w.state.LastError = err.Error()
	})
	s.setUp(name, false)
}

// terminate detiene un proceso cuya salida ya esperamos (no dispara el watcher).
func (s *Supervisor) terminate(name string, h ports.ProcessHandle, grace time.Duration) {
	s.update(name, func(w *worker) {
		w.stopping = true
		w.handle = nil
		w.state.PID = 0
	})
	if err := s.launcher.Terminate(h, grace); err != nil {
		slog.Warn("supervisor: terminate failed", "worker", name, "err", err)
	}
}

func (s *Supervisor) setUp(name string, up bool) {
	if s.metrics == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	s.metrics.WorkerUp.WithLabelValues(name).Set(v)
}

// sleepCtx espera d respetando el contexto.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
