package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// routingTableEntry is one row of the routing debug view
type routingTableEntry struct {
	Model      string `json:"model"`
	Deployment string `json:"deployment"`
	Provider   string `json:"provider"`
	Priority   int    `json:"priority"`
	Weight     int    `json:"weight"`
	Healthy    bool   `json:"healthy"`
	Available  bool   `json:"available"`
	Fails      int    `json:"consecutive_fails"`
	AvgLatency float64 `json:"avg_latency_ms"`
}

// handleRoutingTable provides a JSON view of the live routing topology,
// useful for debugging which deployment a model name resolves to
func handleRoutingTable(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if deploymentRegistry == nil {
		http.Error(w, "Router not initialized", http.StatusServiceUnavailable)
		return
	}

	entries := make([]routingTableEntry, 0)
	for _, d := range deploymentRegistry.List() {
		entries = append(entries, routingTableEntry{
			Model:      d.ModelID,
			Deployment: d.ID,
			Provider:   string(d.Provider),
			Priority:   d.Priority,
			Weight:     d.Weight,
			Healthy:    d.Status.Healthy,
			Available:  d.Status.Available,
			Fails:      d.Status.ConsecutiveFails,
			AvgLatency: d.Metrics.AverageLatency,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Model != entries[j].Model {
			return entries[i].Model < entries[j].Model
		}
		return entries[i].Priority < entries[j].Priority
	})

	providersStatus := map[string]bool{}
	for pt := range providerDefaults {
		providersStatus[string(pt)] = providerConfigured(pt)
	}

	w.Header().Set("Content-Type", "application/json")
	payload := map[string]interface{}{
		"generated_at": time.Now().UTC(),
		"providers":    providersStatus,
		"entries":      entries,
	}
	if modelRouter != nil {
		payload["strategy"] = modelRouter.Strategy()
	}
	json.NewEncoder(w).Encode(payload)
}
