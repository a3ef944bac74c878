package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// handleAgents serves GET|POST /api/v1/agents
func handleAgents(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if agentManager == nil {
		http.Error(w, "Agent manager not initialized", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(map[string]interface{}{
			"agents": agentManager.List(),
		})
	case http.MethodPost:
		var cfg AgentConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_request")
			return
		}
		agent, err := agentManager.Create(cfg)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error(), "invalid_request")
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(agent)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAgentByID serves /api/v1/agents/{id}, /api/v1/agents/{id}/execute
// and /api/v1/agents/{id}/tools
func handleAgentByID(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if agentManager == nil {
		http.Error(w, "Agent manager not initialized", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	id, action, _ := strings.Cut(rest, "/")

	agent, exists := agentManager.Get(id)
	if !exists {
		writeJSONError(w, http.StatusNotFound, "agent not found: "+id, "agent_not_found")
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch {
	case action == "" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(agent)

	case action == "" && r.Method == http.MethodDelete:
		agentManager.Delete(id)
		w.WriteHeader(http.StatusNoContent)

	case action == "execute" && r.Method == http.MethodPost:
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
			writeJSONError(w, http.StatusBadRequest, "input is required", "invalid_request")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		exec, err := agentManager.Execute(ctx, agent, req.Input)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error(), "agent_error")
			return
		}
		json.NewEncoder(w).Encode(exec)

	case action == "tools" && r.Method == http.MethodGet:
		tools := agentManager.availableTools(r.Context(), agent.Config.Tools)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"agent_id": agent.ID,
			"tools":    tools,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleListTools serves GET /api/v1/tools with every available tool
func handleListTools(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if agentManager == nil {
		http.Error(w, "Agent manager not initialized", http.StatusServiceUnavailable)
		return
	}

	tools := agentManager.allTools(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tools": tools,
	})
}
