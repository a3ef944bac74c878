package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	auditDB      *sql.DB
	auditDBOnce  sync.Once
	auditEnabled bool = true
)

// DisableAudit turns off all audit logging
func DisableAudit() {
	auditEnabled = false
	log.Println("[Audit] audit logging disabled")
}

// AuditEntry represents a complete upstream LLM interaction
type AuditEntry struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Model          string    `json:"model"`
	Deployment     string    `json:"deployment,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	FullInput      string    `json:"full_input"` // JSON encoded request
	FullOutput     string    `json:"full_output"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	Error          string    `json:"error,omitempty"`
}

// InitAuditDB initializes the SQLite database for audit logging
func InitAuditDB(path string) error {
	if os.Getenv("ENABLE_LLM_AUDIT") == "false" {
		DisableAudit()
		return nil
	}

	var err error
	auditDBOnce.Do(func() {
		auditDB, err = sql.Open("sqlite3", path)
		if err != nil {
			log.Printf("[Audit] failed to open audit database: %v", err)
			return
		}

		schema := `
		CREATE TABLE IF NOT EXISTS llm_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			model TEXT NOT NULL,
			deployment TEXT,
			provider TEXT,
			full_input TEXT NOT NULL,
			full_output TEXT NOT NULL,
			input_tokens INTEGER,
			output_tokens INTEGER,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_conversation ON llm_audit(conversation_id);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON llm_audit(timestamp);
		`

		_, err = auditDB.Exec(schema)
		if err != nil {
			log.Printf("[Audit] failed to create audit schema: %v", err)
			return
		}

		log.Println("[Audit] audit database initialized")
	})

	return err
}

// LogLLMInteraction records one upstream call. Failures here never affect
// the request path.
func LogLLMInteraction(conversationID, model, deployment, provider string, input interface{}, output string, inputTokens, outputTokens int, callErr error) {
	if !auditEnabled || auditDB == nil {
		return
	}

	inputJSON, jsonErr := json.Marshal(input)
	if jsonErr != nil {
		inputJSON = []byte(fmt.Sprintf("error marshaling input: %v", jsonErr))
	}

	errorStr := ""
	if callErr != nil {
		errorStr = callErr.Error()
	}

	_, err := auditDB.Exec(`
		INSERT INTO llm_audit (conversation_id, model, deployment, provider, full_input, full_output, input_tokens, output_tokens, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, model, deployment, provider, string(inputJSON), output, inputTokens, outputTokens, errorStr,
	)
	if err != nil {
		log.Printf("[Audit] failed to write audit entry: %v", err)
	}
}

// handleAuditHistory serves GET /api/v1/audit?conversation_id=...
func handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		writeJSONError(w, http.StatusBadRequest, "conversation_id is required", "invalid_request")
		return
	}

	entries, err := GetAuditHistory(conversationID)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error(), "audit_unavailable")
		return
	}
	if entries == nil {
		entries = []AuditEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"conversation_id": conversationID,
		"entries":         entries,
	})
}

// GetAuditHistory returns the audit trail for a conversation, oldest first
func GetAuditHistory(conversationID string) ([]AuditEntry, error) {
	if auditDB == nil {
		return nil, fmt.Errorf("audit database not initialized")
	}

	rows, err := auditDB.Query(`
		SELECT id, conversation_id, timestamp, model, deployment, provider, full_input, full_output, input_tokens, output_tokens, error
		FROM llm_audit WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var deployment, provider, errStr sql.NullString
		var inputTokens, outputTokens sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Timestamp, &e.Model, &deployment, &provider, &e.FullInput, &e.FullOutput, &inputTokens, &outputTokens, &errStr); err != nil {
			return nil, err
		}
		e.Deployment = deployment.String
		e.Provider = provider.String
		e.Error = errStr.String
		e.InputTokens = int(inputTokens.Int64)
		e.OutputTokens = int(outputTokens.Int64)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
