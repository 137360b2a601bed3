// Package recovery decide y ejecuta acciones correctivas sobre los workers que
// el Supervisor reporta como caídos o saturados.
package recovery

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
)

var (
	ErrUnsupportedAction = errors.New("recovery action not supported")
	ErrBudgetExhausted   = errors.New("worker restart budget exhausted")
	ErrUnknownWorker     = errors.New("unknown worker")
)

// Config define los umbrales de recursos que disparan un reinicio.
type Config struct {
	MaxCPUPercent float64
	MaxMemPercent float64
}

// DefaultConfig devuelve umbrales del 90%.
func DefaultConfig() Config {
	return Config{MaxCPUPercent: 90, MaxMemPercent: 90}
}

// Coordinator mantiene la cola de acciones pendientes y las ejecuta de una en una.
type Coordinator struct {
	cfg     Config
	ctrl    ports.WorkerController
	alerter ports.Alerter
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   actionQueue
	pending map[string]*item
	seq     uint64
	wake    chan struct{}

	now func() time.Time
}

// New crea un Coordinator. alerter y m pueden ser nil.
func New(cfg Config, ctrl ports.WorkerController, alerter ports.Alerter, m *metrics.Metrics) *Coordinator {
	if cfg.MaxCPUPercent <= 0 {
		cfg.MaxCPUPercent = DefaultConfig().MaxCPUPercent
	}
	if cfg.MaxMemPercent <= 0 {
		cfg.MaxMemPercent = DefaultConfig().MaxMemPercent
	}
	return &Coordinator{
		cfg:     cfg,
		ctrl:    ctrl,
		alerter: alerter,
		metrics: m,
		pending: make(map[string]*item),
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Observe implementa ports.StateObserver: evalúa el estado y encola lo necesario.
func (c *Coordinator) Observe(state domain.WorkerRuntimeState) {
	for _, a := range c.Evaluate(state) {
		c.Enqueue(a)
	}
}

// Evaluate decide qué acciones necesita un worker. Salud primero, luego recursos.
//
// Si el worker necesita acción pero ya agotó su presupuesto de reinicios, se
// marca como agotado (una sola alerta crítica) y no se devuelve ninguna acción.
func (c *Coordinator) Evaluate(state domain.WorkerRuntimeState) []domain.RecoveryAction {
	if state.Exhausted || state.Status == domain.WorkerStopped || state.Status == domain.WorkerStarting {
		return nil
	}

	var actions []domain.RecoveryAction
	if state.Status != domain.WorkerRunning {
		actions = append(actions, c.action(state.Name, domain.ActionRestart, domain.PriorityHealth,
			fmt.Sprintf("status %s: %s", state.Status, state.LastError)))
	} else {
		if state.CPUPercent > c.cfg.MaxCPUPercent {
			actions = append(actions, c.action(state.Name, domain.ActionRestart, domain.PriorityResource,
				fmt.Sprintf("cpu %.1f%% > %.1f%%", state.CPUPercent, c.cfg.MaxCPUPercent)))
		}
		if state.MemPercent > c.cfg.MaxMemPercent {
			actions = append(actions, c.action(state.Name, domain.ActionRestart, domain.PriorityResource,
				fmt.Sprintf("mem %.1f%% > %.1f%%", state.MemPercent, c.cfg.MaxMemPercent)))
		}
	}
	if len(actions) == 0 {
		return nil
	}

	if c.budgetLeft(state) <= 0 {
		c.exhaust(context.Background(), state.Name, state.RestartCount)
		return nil
	}
	return actions
}

func (c *Coordinator) action(worker string, kind domain.ActionKind, priority int, reason string) domain.RecoveryAction {
	return domain.RecoveryAction{
		Worker:     worker,
		Kind:       kind,
		Reason:     reason,
		Priority:   priority,
		EnqueuedAt: c.now(),
	}
}

func (c *Coordinator) budgetLeft(state domain.WorkerRuntimeState) int {
	def, ok := c.ctrl.Definition(state.Name)
	if !ok {
		return 0
	}
	return def.Restart.MaxRestarts - state.RestartCount
}

// exhaust marca el worker como agotado; solo la primera llamada alerta.
func (c *Coordinator) exhaust(ctx context.Context, worker string, restarts int) {
	if !c.ctrl.MarkExhausted(worker) {
		return
	}
	c.Discard(worker)
	slog.Error("recovery: restart budget exhausted", "worker", worker, "restarts", restarts)
	c.alert(ctx, domain.Alert{
		Severity: domain.SeverityCritical,
		Kind:     domain.AlertRestartBudgetExhausted,
		Worker:   worker,
		Message:  fmt.Sprintf("worker %s failed permanently after %d restarts", worker, restarts),
	})
}

// Enqueue añade una acción. Devuelve false si ya había una equivalente pendiente
// (mismo worker y tipo); en ese caso se conserva la de mayor prioridad.
func (c *Coordinator) Enqueue(a domain.RecoveryAction) bool {
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = c.now()
	}

	c.mu.Lock()
	key := a.DedupeKey()
	if existing, ok := c.pending[key]; ok {
		if a.Priority > existing.action.Priority {
			existing.action.Priority = a.Priority
			existing.action.Reason = a.Reason
			heap.Fix(&c.queue, existing.index)
		}
		c.mu.Unlock()
		return false
	}
	c.seq++
	it := &item{action: a, seq: c.seq}
	heap.Push(&c.queue, it)
	c.pending[key] = it
	depth := c.queue.Len()
	c.mu.Unlock()

	c.setDepth(depth)
	slog.Debug("recovery: action queued",
		"worker", a.Worker, "kind", a.Kind, "priority", a.Priority, "reason", a.Reason)

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending devuelve una copia de la cola en orden de ejecución.
func (c *Coordinator) Pending() []domain.RecoveryAction {
	c.mu.Lock()
	items := make([]*item, len(c.queue))
	copy(items, c.queue)
	c.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return before(items[i], items[j]) })
	out := make([]domain.RecoveryAction, len(items))
	for i, it := range items {
		out[i] = it.action
	}
	return out
}

// Drain ejecuta acciones de una en una hasta que se cancele el contexto.
func (c *Coordinator) Drain(ctx context.Context) error {
	slog.Info("recovery: drain loop starting")
	for {
		for c.RunOnce(ctx) {
			if ctx.Err() != nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			slog.Info("recovery: drain loop stopped")
			return nil
		case <-c.wake:
		}
	}
}

// RunOnce saca la acción más prioritaria y la ejecuta. Devuelve false si la cola está vacía.
func (c *Coordinator) RunOnce(ctx context.Context) bool {
	c.mu.Lock()
	if c.queue.Len() == 0 {
		c.mu.Unlock()
		return false
	}
	it := heap.Pop(&c.queue).(*item)
	delete(c.pending, it.action.DedupeKey())
	depth := c.queue.Len()
	c.mu.Unlock()

	c.setDepth(depth)
	c.execute(ctx, it.action)
	return true
}

func (c *Coordinator) execute(ctx context.Context, a domain.RecoveryAction) {
	state, ok := c.ctrl.State(a.Worker)
	if !ok {
		slog.Warn("recovery: dropping action for unknown worker", "worker", a.Worker, "kind", a.Kind)
		c.count(a.Kind, "dropped")
		return
	}
	if state.Exhausted {
		c.count(a.Kind, "dropped")
		return
	}

	var err error
	switch a.Kind {
	case domain.ActionRestart, domain.ActionRecreate:
		if c.budgetLeft(state) <= 0 {
			c.count(a.Kind, "exhausted")
			c.exhaust(ctx, a.Worker, state.RestartCount)
			return
		}
		slog.Info("recovery: executing action",
			"worker", a.Worker, "kind", a.Kind, "attempt", a.Attempt, "reason", a.Reason)
		if a.Kind == domain.ActionRestart {
			err = c.ctrl.Restart(ctx, a.Worker)
		} else {
			err = c.ctrl.Recreate(ctx, a.Worker)
		}
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedAction, a.Kind)
	}

	if err == nil {
		c.count(a.Kind, "ok")
		return
	}

	if errors.Is(err, ErrUnsupportedAction) {
		c.count(a.Kind, "unsupported")
		slog.Warn("recovery: unsupported action", "worker", a.Worker, "kind", a.Kind)
		c.alert(ctx, domain.Alert{
			Severity: domain.SeverityWarning,
			Kind:     domain.AlertActionUnsupported,
			Worker:   a.Worker,
			Message:  err.Error(),
		})
		return
	}

	c.count(a.Kind, "failed")
	if a.Attempt == 0 {
		slog.Warn("recovery: action failed, retrying once",
			"worker", a.Worker, "kind", a.Kind, "err", err)
		retry := a
		retry.Attempt = 1
		retry.EnqueuedAt = c.now()
		c.Enqueue(retry)
		return
	}

	slog.Error("recovery: action failed twice", "worker", a.Worker, "kind", a.Kind, "err", err)
	c.alert(ctx, domain.Alert{
		Severity: domain.SeverityCritical,
		Kind:     domain.AlertActionFailed,
		Worker:   a.Worker,
		Message:  fmt.Sprintf("%s failed after retry: %v", a.Kind, err),
	})
}

// RequestManual encola una acción pedida por un operador (máxima prioridad).
func (c *Coordinator) RequestManual(worker string, kind domain.ActionKind, reason string) error {
	if !kind.Valid() {
		return fmt.Errorf("recovery.RequestManual: %w: %q", ErrUnsupportedAction, kind)
	}
	state, ok := c.ctrl.State(worker)
	if !ok {
		return fmt.Errorf("recovery.RequestManual: %w: %s", ErrUnknownWorker, worker)
	}
	if state.Exhausted || c.budgetLeft(state) <= 0 {
		return fmt.Errorf("recovery.RequestManual %s: %w", worker, ErrBudgetExhausted)
	}
	if reason == "" {
		reason = "manual"
	}
	c.Enqueue(c.action(worker, kind, domain.PriorityManual, reason))
	return nil
}

// Discard descarta las acciones pendientes de un worker.
func (c *Coordinator) Discard(worker string) {
	c.mu.Lock()
	for key, it := range c.pending {
		if it.action.Worker == worker {
			heap.Remove(&c.queue, it.index)
			delete(c.pending, key)
		}
	}
	depth := c.queue.Len()
	c.mu.Unlock()
	c.setDepth(depth)
}

func (c *Coordinator) alert(ctx context.Context, a domain.Alert) {
	if a.At.IsZero() {
		a.At = c.now()
	}
	if c.alerter != nil {
		c.alerter.Alert(ctx, a)
	}
}

func (c *Coordinator) count(kind domain.ActionKind, result string) {
	if c.metrics != nil {
		c.metrics.RecoveryActions.WithLabelValues(string(kind), result).Inc()
	}
}

func (c *Coordinator) setDepth(n int) {
	if c.metrics != nil {
		c.metrics.RecoveryQueue.Set(float64(n))
	}
}

// --- cola de prioridad ---

type item struct {
	action domain.RecoveryAction
	seq    uint64
	index  int
}

// before: mayor prioridad primero, FIFO en empate.
func before(a, b *item) bool {
	if a.action.Priority != b.action.Priority {
		return a.action.Priority > b.action.Priority
	}
	return a.seq < b.seq
}

type actionQueue []*item

func (q actionQueue) Len() int           { return len(q) }
func (q actionQueue) Less(i, j int) bool { return before(q[i], q[j]) }
func (q actionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *actionQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *actionQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}
