package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRestartPolicy_BackoffFor(t *testing.T) {
	p := RestartPolicy{MaxRestarts: 5, Backoff: time.Second}
	assert.Equal(t, time.Second, p.BackoffFor(0, time.Minute))
	assert.Equal(t, 2*time.Second, p.BackoffFor(1, time.Minute))
	assert.Equal(t, 8*time.Second, p.BackoffFor(3, time.Minute))
	assert.Equal(t, time.Minute, p.BackoffFor(10, time.Minute))

	assert.Zero(t, RestartPolicy{}.BackoffFor(3, time.Minute))
}

func TestWorkerDefinition_Validate(t *testing.T) {
	ok := WorkerDefinition{Name: "feed", Address: "127.0.0.1:9001", Launch: LaunchSpec{Command: "feed"}}
	assert.NoError(t, ok.Validate())

	noAddr := ok
	noAddr.Address = ""
	assert.ErrorIs(t, noAddr.Validate(), ErrInvalidDefinition)

	badCat := ok
	badCat.Category = "gpu"
	assert.ErrorIs(t, badCat.Validate(), ErrInvalidDefinition)
}

func TestWorkerDefinition_HealthURL(t *testing.T) {
	d := WorkerDefinition{Address: "localhost:8080"}
	assert.Equal(t, "http://localhost:8080/health", d.HealthURL())

	d.HealthPath = "status"
	assert.Equal(t, "http://localhost:8080/status", d.HealthURL())
}

func TestWorkerRuntimeState_Stale(t *testing.T) {
	now := time.Now()
	s := WorkerRuntimeState{}
	assert.True(t, s.Stale(now, time.Minute))

	s.LastHealthCheck = now.Add(-30 * time.Second)
	assert.False(t, s.Stale(now, time.Minute))
	assert.True(t, s.Stale(now, 10*time.Second))
}
