package routing

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"chatrelay/models"
	"chatrelay/providers"
)

// Router manages model deployments and routing decisions
type Router struct {
	models      map[string]*models.Model
	deployments map[string]*models.Deployment
	strategy    RoutingStrategy

	// Providers (exported for health checker)
	Providers map[models.ProviderType]providers.Provider

	mu              sync.RWMutex
	roundRobinIndex map[string]int
	healthChecker   *HealthChecker

	circuitBreakers map[string]*CircuitBreaker
}

// RoutingStrategy defines how to select deployments
type RoutingStrategy string

const (
	StrategyRoundRobin   RoutingStrategy = "round_robin"
	StrategyWeighted     RoutingStrategy = "weighted"
	StrategyLeastLatency RoutingStrategy = "least_latency"
	StrategyPriority     RoutingStrategy = "priority"
)

// NewRouter creates a new router
func NewRouter(strategy RoutingStrategy) *Router {
	return &Router{
		models:          make(map[string]*models.Model),
		deployments:     make(map[string]*models.Deployment),
		Providers:       make(map[models.ProviderType]providers.Provider),
		strategy:        strategy,
		roundRobinIndex: make(map[string]int),
		circuitBreakers: make(map[string]*CircuitBreaker),
	}
}

// StartHealthChecks launches the background health check loop. checkNow
// also runs a pass immediately instead of waiting for the first tick.
func (r *Router) StartHealthChecks(interval, timeout time.Duration, checkNow bool) {
	r.mu.Lock()
	if r.healthChecker != nil {
		r.mu.Unlock()
		return
	}
	hc := NewHealthChecker(r, interval, timeout)
	hc.checkOnStart = checkNow
	r.healthChecker = hc
	r.mu.Unlock()

	hc.Start()
}

// StopHealthChecks stops the background health check loop
func (r *Router) StopHealthChecks() {
	r.mu.Lock()
	hc := r.healthChecker
	r.healthChecker = nil
	r.mu.Unlock()

	if hc != nil {
		hc.Stop()
	}
}

// Strategy returns the router's selection strategy
func (r *Router) Strategy() RoutingStrategy {
	return r.strategy
}

// RegisterModel registers a model
func (r *Router) RegisterModel(model *models.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.ID] = model
}

// RegisterDeployment registers a deployment and wires its circuit breaker
func (r *Router) RegisterDeployment(deployment *models.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[deployment.ID] = deployment

	if model, exists := r.models[deployment.ModelID]; exists {
		model.Deployments = append(model.Deployments, deployment.ID)
	}

	r.circuitBreakers[deployment.ID] = NewCircuitBreaker(deployment.ID, 5, 60*time.Second)
}

// RegisterProvider registers a provider
func (r *Router) RegisterProvider(providerType models.ProviderType, provider providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Providers[providerType] = provider
}

// Deployments returns a snapshot of registered deployments
func (r *Router) Deployments() []*models.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Deployment, 0, len(r.deployments))
	for _, d := range r.deployments {
		out = append(out, d)
	}
	return out
}

// Models returns a snapshot of registered models
func (r *Router) Models() []*models.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// RouteRequest makes a routing decision for a model request
func (r *Router) RouteRequest(ctx context.Context, modelID string, reqCtx *RequestContext) (*RoutingDecision, error) {
	if reqCtx == nil {
		reqCtx = &RequestContext{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	model, exists := r.models[modelID]
	if !exists {
		// Fall back to matching by provider model ID
		for _, deployment := range r.deployments {
			if deployment.ProviderModelID == modelID {
				model = r.models[deployment.ModelID]
				if model != nil {
					break
				}
			}
		}
		if model == nil {
			return nil, fmt.Errorf("model not found: %s", modelID)
		}
	}

	availableDeployments := r.getAvailableDeployments(model.Deployments)
	if len(availableDeployments) == 0 {
		return nil, fmt.Errorf("no available deployments for model %s", modelID)
	}

	primary := r.selectDeployment(availableDeployments, reqCtx)
	if primary == nil {
		return nil, fmt.Errorf("failed to select primary deployment")
	}

	fallbacks := r.selectFallbacks(availableDeployments, primary)

	return &RoutingDecision{
		RequestID: reqCtx.RequestID,
		ModelID:   model.ID,
		Primary:   primary,
		Fallbacks: fallbacks,
		Strategy:  r.strategy,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"total_deployments":     len(model.Deployments),
			"available_deployments": len(availableDeployments),
		},
	}, nil
}

// getAvailableDeployments returns deployments that are healthy and whose
// circuit breaker admits traffic
func (r *Router) getAvailableDeployments(deploymentIDs []string) []*models.Deployment {
	var available []*models.Deployment

	for _, id := range deploymentIDs {
		deployment, exists := r.deployments[id]
		if !exists {
			continue
		}

		if cb, exists := r.circuitBreakers[id]; exists && !cb.Allow() {
			continue
		}

		if deployment.Status.Available && deployment.Status.ConsecutiveFails < 3 {
			available = append(available, deployment)
		}
	}

	return available
}

// selectDeployment selects a deployment based on routing strategy
func (r *Router) selectDeployment(deployments []*models.Deployment, reqCtx *RequestContext) *models.Deployment {
	if len(deployments) == 0 {
		return nil
	}

	switch r.strategy {
	case StrategyRoundRobin:
		return r.selectRoundRobin(deployments, reqCtx)
	case StrategyWeighted:
		return r.selectWeighted(deployments)
	case StrategyPriority:
		return r.selectPriority(deployments)
	case StrategyLeastLatency:
		return r.selectLeastLatency(deployments)
	default:
		return deployments[0]
	}
}

func (r *Router) selectRoundRobin(deployments []*models.Deployment, reqCtx *RequestContext) *models.Deployment {
	key := reqCtx.ModelID
	index := r.roundRobinIndex[key] % len(deployments)
	r.roundRobinIndex[key] = index + 1
	return deployments[index]
}

func (r *Router) selectWeighted(deployments []*models.Deployment) *models.Deployment {
	totalWeight := 0
	for _, d := range deployments {
		totalWeight += d.Weight
	}
	if totalWeight == 0 {
		return deployments[0]
	}

	random := rand.Intn(totalWeight)
	cumulative := 0
	for _, d := range deployments {
		cumulative += d.Weight
		if random < cumulative {
			return d
		}
	}
	return deployments[len(deployments)-1]
}

func (r *Router) selectPriority(deployments []*models.Deployment) *models.Deployment {
	// Lower priority value wins
	sorted := make([]*models.Deployment, len(deployments))
	copy(sorted, deployments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted[0]
}

func (r *Router) selectLeastLatency(deployments []*models.Deployment) *models.Deployment {
	var best *models.Deployment
	for _, d := range deployments {
		if best == nil || d.Metrics.AverageLatency < best.Metrics.AverageLatency {
			best = d
		}
	}
	return best
}

// selectFallbacks selects fallback deployments in strategy order
func (r *Router) selectFallbacks(deployments []*models.Deployment, primary *models.Deployment) []*models.Deployment {
	var fallbacks []*models.Deployment
	maxFallbacks := 3

	for _, d := range deployments {
		if d.ID == primary.ID {
			continue
		}
		fallbacks = append(fallbacks, d)
		if len(fallbacks) >= maxFallbacks {
			break
		}
	}

	return fallbacks
}

// ExecuteRequest executes a request with routing and fallback
func (r *Router) ExecuteRequest(ctx context.Context, req *providers.UnifiedRequest, decision *RoutingDecision) (*providers.UnifiedResponse, error) {
	resp, err := r.tryDeployment(ctx, req, decision.Primary)
	if err == nil {
		return resp, nil
	}
	r.recordFailure(decision.Primary.ID)

	var lastErr error = err
	for _, fallback := range decision.Fallbacks {
		resp, err = r.tryDeployment(ctx, req, fallback)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		r.recordFailure(fallback.ID)
	}

	return nil, fmt.Errorf("all deployments failed: %w", lastErr)
}

// ExecuteStream executes a streaming request with routing and fallback.
// A deployment that fails before producing any output is treated as
// retriable; once chunks have been forwarded the stream is committed and
// errors are passed through.
func (r *Router) ExecuteStream(ctx context.Context, req *providers.UnifiedRequest, decision *RoutingDecision, stream chan<- providers.StreamChunk) error {
	defer close(stream)

	candidates := append([]*models.Deployment{decision.Primary}, decision.Fallbacks...)

	var lastErr error
	for _, deployment := range candidates {
		committed, err := r.tryStream(ctx, req, deployment, stream)
		if err == nil {
			r.recordSuccess(deployment.ID)
			return nil
		}
		r.recordFailure(deployment.ID)
		lastErr = err
		if committed {
			// Partial output already sent; surface the error instead of
			// restarting on another deployment
			stream <- providers.StreamChunk{Error: err}
			return err
		}
	}

	err := fmt.Errorf("all deployments failed: %w", lastErr)
	stream <- providers.StreamChunk{Error: err}
	return err
}

// tryStream attempts a streaming request on one deployment. The returned
// bool reports whether any content chunk reached the caller's stream.
func (r *Router) tryStream(ctx context.Context, req *providers.UnifiedRequest, deployment *models.Deployment, stream chan<- providers.StreamChunk) (bool, error) {
	r.mu.RLock()
	provider, exists := r.Providers[deployment.Provider]
	r.mu.RUnlock()
	if !exists {
		return false, fmt.Errorf("provider not found: %s", deployment.Provider)
	}

	streamReq := *req
	streamReq.Stream = true
	providerReq, err := provider.TranslateRequest(ctx, &streamReq, deployment)
	if err != nil {
		return false, fmt.Errorf("failed to translate request: %w", err)
	}

	inner := make(chan providers.StreamChunk, 16)
	go provider.Stream(ctx, providerReq, inner)

	committed := false
	for chunk := range inner {
		if chunk.Error != nil {
			return committed, chunk.Error
		}
		stream <- chunk
		if chunk.Data != "" {
			committed = true
		}
	}

	return committed, nil
}

// tryDeployment attempts to execute request on a deployment
func (r *Router) tryDeployment(ctx context.Context, req *providers.UnifiedRequest, deployment *models.Deployment) (*providers.UnifiedResponse, error) {
	r.mu.RLock()
	provider, exists := r.Providers[deployment.Provider]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("provider not found: %s", deployment.Provider)
	}

	providerReq, err := provider.TranslateRequest(ctx, req, deployment)
	if err != nil {
		return nil, fmt.Errorf("failed to translate request: %w", err)
	}

	providerResp, err := provider.Execute(ctx, providerReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	unifiedResp, err := provider.TranslateResponse(ctx, providerResp, deployment)
	if err != nil {
		return nil, fmt.Errorf("failed to translate response: %w", err)
	}

	r.recordSuccess(deployment.ID)

	return unifiedResp, nil
}

// recordSuccess records successful request
func (r *Router) recordSuccess(deploymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deployment, exists := r.deployments[deploymentID]; exists {
		deployment.Status.ConsecutiveFails = 0
		deployment.Status.LastSuccessful = time.Now()
		deployment.Metrics.SuccessRequests++
		deployment.Metrics.TotalRequests++
	}

	if cb, exists := r.circuitBreakers[deploymentID]; exists {
		cb.RecordSuccess()
	}
}

// recordFailure records failed request
func (r *Router) recordFailure(deploymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deployment, exists := r.deployments[deploymentID]; exists {
		deployment.Status.ConsecutiveFails++
		deployment.Metrics.FailedRequests++
		deployment.Metrics.TotalRequests++
	}

	if cb, exists := r.circuitBreakers[deploymentID]; exists {
		cb.RecordFailure()
	}
}

// RoutingDecision represents a routing choice with fallbacks
type RoutingDecision struct {
	RequestID string                 `json:"request_id"`
	ModelID   string                 `json:"model_id"`
	Primary   *models.Deployment     `json:"primary"`
	Fallbacks []*models.Deployment   `json:"fallbacks"`
	Strategy  RoutingStrategy        `json:"strategy"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// RequestContext provides context for routing decisions
type RequestContext struct {
	RequestID string
	ModelID   string
	UserID    string
	SessionID string
	Priority  int
}
