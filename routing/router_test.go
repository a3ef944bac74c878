package routing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/models"
	"chatrelay/providers"
)

// fakeProvider is a scriptable Provider for router tests
type fakeProvider struct {
	failFirst int // number of Execute calls that fail before succeeding
	calls     int
	reply     string
}

func (f *fakeProvider) TranslateRequest(ctx context.Context, req *providers.UnifiedRequest, d *models.Deployment) (*providers.ProviderRequest, error) {
	return &providers.ProviderRequest{URL: "fake://" + d.ID, Method: "POST"}, nil
}

func (f *fakeProvider) Execute(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, fmt.Errorf("simulated upstream failure")
	}
	return &providers.ProviderResponse{StatusCode: 200}, nil
}

func (f *fakeProvider) TranslateResponse(ctx context.Context, resp *providers.ProviderResponse, d *models.Deployment) (*providers.UnifiedResponse, error) {
	return &providers.UnifiedResponse{
		Choices: []providers.Choice{{
			Message:      providers.Message{Role: "assistant", Content: f.reply},
			FinishReason: "stop",
		}},
	}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *providers.ProviderRequest, stream chan<- providers.StreamChunk) error {
	defer close(stream)
	f.calls++
	if f.calls <= f.failFirst {
		err := fmt.Errorf("simulated stream failure")
		stream <- providers.StreamChunk{Error: err}
		return err
	}
	stream <- providers.StreamChunk{Data: f.reply}
	stream <- providers.StreamChunk{Done: true, FinishReason: "stop"}
	return nil
}

func (f *fakeProvider) ValidateConfig(d *models.Deployment) error                { return nil }
func (f *fakeProvider) HealthCheck(ctx context.Context, d *models.Deployment) error { return nil }
func (f *fakeProvider) GetInfo() providers.ProviderInfo {
	return providers.ProviderInfo{Name: "fake"}
}

func testDeployment(id string, priority int) *models.Deployment {
	return &models.Deployment{
		ID:              id,
		ModelID:         "test-model",
		Provider:        models.ProviderOpenAI,
		ProviderModelID: "test-model",
		Priority:        priority,
		Weight:          100,
		Status:          models.DeploymentStatus{Available: true, Healthy: true},
	}
}

func newTestRouter(strategy RoutingStrategy, p providers.Provider, deployments ...*models.Deployment) *Router {
	r := NewRouter(strategy)
	r.RegisterModel(&models.Model{ID: "test-model", Name: "Test Model"})
	r.RegisterProvider(models.ProviderOpenAI, p)
	for _, d := range deployments {
		r.RegisterDeployment(d)
	}
	return r
}

func TestRouteRequestPrioritySelection(t *testing.T) {
	r := newTestRouter(StrategyPriority, &fakeProvider{},
		testDeployment("secondary", 2),
		testDeployment("primary", 1),
	)

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "primary", decision.Primary.ID)
	require.Len(t, decision.Fallbacks, 1)
	assert.Equal(t, "secondary", decision.Fallbacks[0].ID)
}

func TestRouteRequestNilRequestContext(t *testing.T) {
	r := newTestRouter(StrategyPriority, &fakeProvider{}, testDeployment("d1", 1))

	decision, err := r.RouteRequest(context.Background(), "test-model", nil)
	require.NoError(t, err)
	assert.Equal(t, "d1", decision.Primary.ID)
	assert.Empty(t, decision.RequestID)
}

func TestRouteRequestUnknownModel(t *testing.T) {
	r := newTestRouter(StrategyPriority, &fakeProvider{})
	_, err := r.RouteRequest(context.Background(), "nope", &RequestContext{RequestID: "r1", ModelID: "nope"})
	assert.Error(t, err)
}

func TestRouteRequestByProviderModelID(t *testing.T) {
	r := newTestRouter(StrategyPriority, &fakeProvider{}, testDeployment("d1", 1))

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "d1", decision.Primary.ID)
}

func TestExecuteRequestFallsBack(t *testing.T) {
	// First Execute call fails, second (fallback deployment) succeeds
	p := &fakeProvider{failFirst: 1, reply: "from fallback"}
	r := newTestRouter(StrategyPriority, p,
		testDeployment("primary", 1),
		testDeployment("secondary", 2),
	)

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)

	resp, err := r.ExecuteRequest(context.Background(), &providers.UnifiedRequest{Model: "test-model"}, decision)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Choices[0].Message.Content)
}

func TestExecuteRequestAllFail(t *testing.T) {
	p := &fakeProvider{failFirst: 10}
	r := newTestRouter(StrategyPriority, p, testDeployment("only", 1))

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)

	_, err = r.ExecuteRequest(context.Background(), &providers.UnifiedRequest{Model: "test-model"}, decision)
	assert.Error(t, err)
}

func TestExecuteStreamForwardsChunks(t *testing.T) {
	p := &fakeProvider{reply: "streamed text"}
	r := newTestRouter(StrategyPriority, p, testDeployment("d1", 1))

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)

	stream := make(chan providers.StreamChunk, 16)
	go r.ExecuteStream(context.Background(), &providers.UnifiedRequest{Model: "test-model"}, decision, stream)

	var content string
	sawDone := false
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		content += chunk.Data
		if chunk.Done {
			sawDone = true
		}
	}
	assert.Equal(t, "streamed text", content)
	assert.True(t, sawDone)
}

func TestExecuteStreamRetriesBeforeOutput(t *testing.T) {
	// First deployment's stream fails before producing output; retried on
	// the fallback deployment
	p := &fakeProvider{failFirst: 1, reply: "second try"}
	r := newTestRouter(StrategyPriority, p,
		testDeployment("primary", 1),
		testDeployment("secondary", 2),
	)

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)

	stream := make(chan providers.StreamChunk, 16)
	go r.ExecuteStream(context.Background(), &providers.UnifiedRequest{Model: "test-model"}, decision, stream)

	var content string
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		content += chunk.Data
	}
	assert.Equal(t, "second try", content)
}

func TestCircuitBreakerRemovesDeployment(t *testing.T) {
	p := &fakeProvider{failFirst: 1000}
	r := newTestRouter(StrategyPriority, p,
		testDeployment("flaky", 1),
		testDeployment("stable", 2),
	)

	// Trip the breaker on the flaky deployment. getAvailableDeployments
	// also drops deployments after 3 consecutive status fails, so reset
	// the status and rely on the breaker alone.
	for i := 0; i < 5; i++ {
		r.recordFailure("flaky")
	}
	r.deployments["flaky"].Status.ConsecutiveFails = 0

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "stable", decision.Primary.ID)
	assert.Empty(t, decision.Fallbacks)
}

func TestWeightedSelectionRespectsZeroWeight(t *testing.T) {
	r := newTestRouter(StrategyWeighted, &fakeProvider{},
		testDeployment("a", 1),
	)
	r.deployments["a"].Weight = 0

	decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: "r1", ModelID: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "a", decision.Primary.ID)
}

func TestRoundRobinCycles(t *testing.T) {
	r := newTestRouter(StrategyRoundRobin, &fakeProvider{},
		testDeployment("a", 1),
		testDeployment("b", 1),
	)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		decision, err := r.RouteRequest(context.Background(), "test-model", &RequestContext{RequestID: fmt.Sprintf("r%d", i), ModelID: "test-model"})
		require.NoError(t, err)
		seen[decision.Primary.ID]++
	}
	assert.Equal(t, 2, seen["a"])
	assert.Equal(t, 2, seen["b"])
}

func TestRecordSuccessResetsFailureState(t *testing.T) {
	r := newTestRouter(StrategyPriority, &fakeProvider{}, testDeployment("d1", 1))

	r.recordFailure("d1")
	r.recordFailure("d1")
	assert.Equal(t, 2, r.deployments["d1"].Status.ConsecutiveFails)

	r.recordSuccess("d1")
	assert.Equal(t, 0, r.deployments["d1"].Status.ConsecutiveFails)
	assert.WithinDuration(t, time.Now(), r.deployments["d1"].Status.LastSuccessful, time.Second)
	assert.Equal(t, int64(3), r.deployments["d1"].Metrics.TotalRequests)
}
