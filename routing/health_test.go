package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatrelay/models"
)

// countingHealthProvider counts HealthCheck calls
type countingHealthProvider struct {
	*fakeProvider

	mu    sync.Mutex
	calls int
}

func (p *countingHealthProvider) HealthCheck(ctx context.Context, d *models.Deployment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

func (p *countingHealthProvider) healthCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestHealthChecksRunOnInterval(t *testing.T) {
	p := &countingHealthProvider{fakeProvider: &fakeProvider{}}
	r := newTestRouter(StrategyPriority, p, testDeployment("d1", 1))

	// checkNow false: nothing until the first tick
	r.StartHealthChecks(50*time.Millisecond, time.Second, false)
	defer r.StopHealthChecks()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, p.healthCalls())

	assert.Eventually(t, func() bool { return p.healthCalls() >= 1 },
		time.Second, 10*time.Millisecond)
}

func TestHealthChecksImmediateFirstPass(t *testing.T) {
	p := &countingHealthProvider{fakeProvider: &fakeProvider{}}
	r := newTestRouter(StrategyPriority, p, testDeployment("d1", 1))

	// checkNow true with an interval long enough that only the startup
	// pass can account for the call
	r.StartHealthChecks(time.Hour, time.Second, true)
	defer r.StopHealthChecks()

	assert.Eventually(t, func() bool { return p.healthCalls() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestHealthCheckMarksUnavailableAfterConsecutiveFails(t *testing.T) {
	r := newTestRouter(StrategyPriority, &fakeProvider{}, testDeployment("d1", 1))
	hc := NewHealthChecker(r, time.Hour, time.Second)
	d := r.deployments["d1"]

	for i := 0; i < 3; i++ {
		hc.updateDeploymentHealth(d, false, "connection refused")
	}
	assert.False(t, d.Status.Healthy)
	assert.False(t, d.Status.Available)
	assert.Equal(t, 3, d.Status.ConsecutiveFails)

	hc.updateDeploymentHealth(d, true, "")
	assert.True(t, d.Status.Available)
	assert.Equal(t, 0, d.Status.ConsecutiveFails)
}
