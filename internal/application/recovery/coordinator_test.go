package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/adapters/metrics"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController imita al Supervisor: cada reinicio consume presupuesto y, si el
// worker sigue enfermo, vuelve a notificar el estado al observer.
type fakeController struct {
	mu         sync.Mutex
	defs       map[string]domain.WorkerDefinition
	states     map[string]domain.WorkerRuntimeState
	neverReady bool
	failNext   int
	calls      []string
	observer   func(domain.WorkerRuntimeState)
}

func newFakeController(maxRestarts int, names ...string) *fakeController {
	f := &fakeController{
		defs:   make(map[string]domain.WorkerDefinition),
		states: make(map[string]domain.WorkerRuntimeState),
	}
	for _, n := range names {
		f.defs[n] = domain.WorkerDefinition{Name: n, Restart: domain.RestartPolicy{MaxRestarts: maxRestarts}}
		f.states[n] = domain.WorkerRuntimeState{Name: n, Status: domain.WorkerRunning}
	}
	return f
}

func (f *fakeController) Definition(name string) (domain.WorkerDefinition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.defs[name]
	return d, ok
}

func (f *fakeController) State(name string) (domain.WorkerRuntimeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[name]
	return s, ok
}

func (f *fakeController) Restart(_ context.Context, name string) error {
	return f.restart("restart:"+name, name)
}

func (f *fakeController) Recreate(_ context.Context, name string) error {
	return f.restart("recreate:"+name, name)
}

func (f *fakeController) restart(call, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return errors.New("launch failed")
	}
	st := f.states[name]
	if st.RestartCount >= f.defs[name].Restart.MaxRestarts {
		f.mu.Unlock()
		return errors.New("budget")
	}
	st.RestartCount++
	if f.neverReady {
		st.Status = domain.WorkerUnhealthy
	} else {
		st.Status = domain.WorkerRunning
		st.CPUPercent = 0
		st.MemPercent = 0
	}
	f.states[name] = st
	obs := f.observer
	f.mu.Unlock()

	if f.neverReady && obs != nil {
		obs(st)
	}
	return nil
}

func (f *fakeController) MarkExhausted(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[name]
	if st.Exhausted {
		return false
	}
	st.Exhausted = true
	st.Status = domain.WorkerFailed
	f.states[name] = st
	return true
}

func (f *fakeController) set(st domain.WorkerRuntimeState) {
	f.mu.Lock()
	f.states[st.Name] = st
	f.mu.Unlock()
}

func (f *fakeController) restartCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *fakeAlerter) Alert(_ context.Context, alert domain.Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	a.mu.Unlock()
}

func (a *fakeAlerter) all() []domain.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Alert(nil), a.alerts...)
}

func newTestCoordinator(ctrl *fakeController) (*Coordinator, *fakeAlerter) {
	alerts := &fakeAlerter{}
	c := New(DefaultConfig(), ctrl, alerts, metrics.NewUnregistered())
	ctrl.observer = c.Observe
	return c, alerts
}

func drainAll(c *Coordinator) int {
	n := 0
	for c.RunOnce(context.Background()) {
		n++
	}
	return n
}

func TestEvaluate_HealthBeforeResources(t *testing.T) {
	ctrl := newFakeController(3, "feed")
	c, _ := newTestCoordinator(ctrl)

	actions := c.Evaluate(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerUnhealthy, CPUPercent: 99})
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionRestart, actions[0].Kind)
	assert.Equal(t, domain.PriorityHealth, actions[0].Priority)

	actions = c.Evaluate(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerRunning, CPUPercent: 95, MemPercent: 97})
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, domain.PriorityResource, a.Priority)
	}

	assert.Empty(t, c.Evaluate(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerRunning, CPUPercent: 10}))
	assert.Empty(t, c.Evaluate(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerStopped}))
}

func TestEnqueue_DedupesAndUpgradesPriority(t *testing.T) {
	ctrl := newFakeController(3, "feed", "risk")
	c, _ := newTestCoordinator(ctrl)

	assert.True(t, c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRestart, Priority: domain.PriorityResource}))
	assert.True(t, c.Enqueue(domain.RecoveryAction{Worker: "risk", Kind: domain.ActionRestart, Priority: domain.PriorityHealth}))
	assert.False(t, c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRestart, Priority: domain.PriorityManual}))

	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "feed", pending[0].Worker)
	assert.Equal(t, domain.PriorityManual, pending[0].Priority)
	assert.Equal(t, "risk", pending[1].Worker)
}

func TestDiscard_DropsOnlyThatWorker(t *testing.T) {
	ctrl := newFakeController(3, "feed", "risk")
	c, _ := newTestCoordinator(ctrl)

	c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRestart, Priority: domain.PriorityHealth})
	c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRecreate, Priority: domain.PriorityManual})
	c.Enqueue(domain.RecoveryAction{Worker: "risk", Kind: domain.ActionRestart, Priority: domain.PriorityHealth})

	c.Discard("feed")
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "risk", pending[0].Worker)

	drainAll(c)
	assert.Equal(t, []string{"restart:risk"}, ctrl.restartCalls())
}

func TestQueue_FIFOOnTies(t *testing.T) {
	ctrl := newFakeController(3, "a", "b", "c")
	c, _ := newTestCoordinator(ctrl)

	for _, w := range []string{"b", "a", "c"} {
		c.Enqueue(domain.RecoveryAction{Worker: w, Kind: domain.ActionRestart, Priority: domain.PriorityHealth})
	}
	drainAll(c)
	assert.Equal(t, []string{"restart:b", "restart:a", "restart:c"}, ctrl.restartCalls())
}

func TestObserve_RestartsUnhealthyWorker(t *testing.T) {
	ctrl := newFakeController(3, "feed")
	c, alerts := newTestCoordinator(ctrl)

	c.Observe(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerFailed})
	assert.Equal(t, 1, drainAll(c))

	st, _ := ctrl.State("feed")
	assert.Equal(t, domain.WorkerRunning, st.Status)
	assert.Equal(t, 1, st.RestartCount)
	assert.Empty(t, alerts.all())
}

// Un worker que nunca vuelve a estar sano recibe exactamente maxRestarts
// reinicios y después una única alerta terminal.
func TestRestartBudget_ExactlyOneAlert(t *testing.T) {
	const maxRestarts = 3
	ctrl := newFakeController(maxRestarts, "feed")
	ctrl.neverReady = true
	c, alerts := newTestCoordinator(ctrl)

	c.Observe(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerFailed})
	drainAll(c)

	assert.Len(t, ctrl.restartCalls(), maxRestarts)
	got := alerts.all()
	require.Len(t, got, 1)
	assert.Equal(t, domain.AlertRestartBudgetExhausted, got[0].Kind)
	assert.Equal(t, domain.SeverityCritical, got[0].Severity)

	st, _ := ctrl.State("feed")
	assert.True(t, st.Exhausted)
	assert.Equal(t, domain.WorkerFailed, st.Status)

	// Nuevas observaciones no producen más acciones ni alertas
	c.Observe(st)
	c.Observe(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerUnhealthy, RestartCount: maxRestarts})
	assert.Zero(t, drainAll(c))
	assert.Len(t, alerts.all(), 1)
	assert.Len(t, ctrl.restartCalls(), maxRestarts)
}

func TestFailedAction_RetriedOnceThenAlert(t *testing.T) {
	ctrl := newFakeController(5, "feed")
	ctrl.failNext = 2
	c, alerts := newTestCoordinator(ctrl)

	c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRestart, Priority: domain.PriorityHealth})
	assert.Equal(t, 2, drainAll(c))

	got := alerts.all()
	require.Len(t, got, 1)
	assert.Equal(t, domain.AlertActionFailed, got[0].Kind)
}

func TestFailedAction_RetrySucceeds(t *testing.T) {
	ctrl := newFakeController(5, "feed")
	ctrl.failNext = 1
	c, alerts := newTestCoordinator(ctrl)

	c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRestart, Priority: domain.PriorityHealth})
	assert.Equal(t, 2, drainAll(c))
	assert.Empty(t, alerts.all())
}

func TestUnsupportedActions_AlertWithoutRetry(t *testing.T) {
	ctrl := newFakeController(3, "feed")
	c, alerts := newTestCoordinator(ctrl)

	c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionScale, Priority: domain.PriorityManual})
	c.Enqueue(domain.RecoveryAction{Worker: "feed", Kind: domain.ActionRollback, Priority: domain.PriorityManual})
	assert.Equal(t, 2, drainAll(c))

	got := alerts.all()
	require.Len(t, got, 2)
	for _, a := range got {
		assert.Equal(t, domain.AlertActionUnsupported, a.Kind)
	}
	assert.Empty(t, ctrl.restartCalls())
}

func TestRequestManual(t *testing.T) {
	ctrl := newFakeController(1, "feed")
	c, _ := newTestCoordinator(ctrl)

	assert.ErrorIs(t, c.RequestManual("ghost", domain.ActionRestart, ""), ErrUnknownWorker)
	assert.ErrorIs(t, c.RequestManual("feed", "REBOOT", ""), ErrUnsupportedAction)

	require.NoError(t, c.RequestManual("feed", domain.ActionRecreate, "operator"))
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.PriorityManual, pending[0].Priority)
	drainAll(c)
	assert.Equal(t, []string{"recreate:feed"}, ctrl.restartCalls())

	// Presupuesto de 1 ya consumido
	assert.ErrorIs(t, c.RequestManual("feed", domain.ActionRestart, ""), ErrBudgetExhausted)
}

func TestDrain_StopsOnCancel(t *testing.T) {
	ctrl := newFakeController(3, "feed")
	c, _ := newTestCoordinator(ctrl)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = c.Drain(ctx)
		close(done)
	}()

	ctrl.set(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerUnhealthy})
	c.Observe(domain.WorkerRuntimeState{Name: "feed", Status: domain.WorkerUnhealthy})

	require.Eventually(t, func() bool { return len(ctrl.restartCalls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
