package main

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StartHTTPServer registers all routes and serves on port
func StartHTTPServer(port int) error {
	http.HandleFunc("/api/v1/chat/completions", handleChatCompletions)
	http.HandleFunc("/api/chat", handleLegacyChat)
	http.HandleFunc("/health", handleHealth)

	// Model management endpoints
	http.HandleFunc("/v1/models", handleListModels)
	http.HandleFunc("/v1/models/", handleGetModel)
	http.HandleFunc("/v1/deployments", handleListDeployments)
	http.HandleFunc("/routing_table", handleRoutingTable)

	// Agent endpoints
	http.HandleFunc("/api/v1/agents", handleAgents)
	http.HandleFunc("/api/v1/agents/", handleAgentByID)
	http.HandleFunc("/api/v1/tools", handleListTools)

	// Audit trail
	http.HandleFunc("/api/v1/audit", handleAuditHistory)

	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}

// handleHealth provides a health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	health := map[string]interface{}{
		"status": "healthy",
		"ports": map[string]int{
			"http": settings.HTTPPort,
		},
	}

	providersStatus := map[string]bool{}
	for pt := range providerDefaults {
		providersStatus[string(pt)] = providerConfigured(pt)
	}
	health["providers"] = providersStatus

	if modelRouter != nil {
		health["router_active"] = true
		health["default_model"] = defaultModel
		if modelRegistry != nil {
			health["available_models"] = len(modelRegistry.List())
		}
		if deploymentRegistry != nil {
			health["healthy_deployments"] = len(deploymentRegistry.GetHealthy())
		}
	} else {
		health["router_active"] = false
	}

	if chatStore != nil {
		if stats, err := chatStore.GetStats(); err == nil {
			health["store"] = stats
		} else {
			health["store_error"] = err.Error()
		}
	}

	if agentManager != nil {
		health["agents"] = len(agentManager.List())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
