package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"chatrelay/models"
	"chatrelay/store"
)

// Global store instance (initialized in main)
var chatStore *store.Store

// ModelResponse for API responses
type ModelResponse struct {
	ID           string                   `json:"id"`
	Object       string                   `json:"object"`
	Name         string                   `json:"name"`
	Family       string                   `json:"family"`
	Capabilities models.ModelCapabilities `json:"capabilities"`
	Deployments  []string                 `json:"deployments"`
	Created      int64                    `json:"created"`
	OwnedBy      string                   `json:"owned_by"`
}

// DeploymentResponse for API responses
type DeploymentResponse struct {
	ID              string                   `json:"id"`
	ModelID         string                   `json:"model_id"`
	Provider        string                   `json:"provider"`
	ProviderModelID string                   `json:"provider_model_id"`
	Status          models.DeploymentStatus  `json:"status"`
	Metrics         models.DeploymentMetrics `json:"metrics"`
	Tags            map[string]string        `json:"tags"`
}

func modelOwner(pt models.ProviderType) string {
	switch pt {
	case models.ProviderOpenAI:
		return "openai"
	case models.ProviderAnthropic:
		return "anthropic"
	case models.ProviderGemini:
		return "google"
	case models.ProviderOpenRouter:
		return "openrouter"
	default:
		return "organization"
	}
}

// handleListModels handles GET /v1/models
func handleListModels(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if modelRegistry == nil {
		http.Error(w, "Router not initialized", http.StatusServiceUnavailable)
		return
	}

	allModels := modelRegistry.List()
	modelResponses := make([]ModelResponse, 0, len(allModels))
	for _, model := range allModels {
		modelResponses = append(modelResponses, ModelResponse{
			ID:           model.ID,
			Object:       "model",
			Name:         model.Name,
			Family:       model.Family,
			Capabilities: model.Capabilities,
			Deployments:  model.Deployments,
			Created:      model.CreatedAt.Unix(),
			OwnedBy:      modelOwner(detectProvider(model.ID)),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   modelResponses,
	})
}

// handleGetModel handles GET /v1/models/{id}
func handleGetModel(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if modelRegistry == nil {
		http.Error(w, "Router not initialized", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/models/")
	model, exists := modelRegistry.Get(id)
	if !exists {
		writeJSONError(w, http.StatusNotFound, "model not found: "+id, "model_not_found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ModelResponse{
		ID:           model.ID,
		Object:       "model",
		Name:         model.Name,
		Family:       model.Family,
		Capabilities: model.Capabilities,
		Deployments:  model.Deployments,
		Created:      model.CreatedAt.Unix(),
		OwnedBy:      modelOwner(detectProvider(model.ID)),
	})
}

// handleListDeployments handles GET /v1/deployments
func handleListDeployments(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if deploymentRegistry == nil {
		http.Error(w, "Router not initialized", http.StatusServiceUnavailable)
		return
	}

	all := deploymentRegistry.List()
	responses := make([]DeploymentResponse, 0, len(all))
	for _, d := range all {
		responses = append(responses, DeploymentResponse{
			ID:              d.ID,
			ModelID:         d.ModelID,
			Provider:        string(d.Provider),
			ProviderModelID: d.ProviderModelID,
			Status:          d.Status,
			Metrics:         d.Metrics,
			Tags:            d.Tags,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   responses,
	})
}
