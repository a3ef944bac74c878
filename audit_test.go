package main

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditHistoryRoundTrip(t *testing.T) {
	require.NoError(t, InitAuditDB(filepath.Join(t.TempDir(), "audit.db")))

	LogLLMInteraction("conv-audit-1", "gpt-4o", "openai/gpt-4o", "openai",
		[]map[string]string{{"role": "user", "content": "hi"}},
		"hello there", 3, 2, nil)
	LogLLMInteraction("conv-audit-1", "gpt-4o", "openai/gpt-4o", "openai",
		nil, "", 0, 0, fmt.Errorf("upstream timeout"))

	entries, err := GetAuditHistory("conv-audit-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "hello there", entries[0].FullOutput)
	assert.Equal(t, 3, entries[0].InputTokens)
	assert.Equal(t, "upstream timeout", entries[1].Error)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestAuditHistoryEndpoint(t *testing.T) {
	require.NoError(t, InitAuditDB(filepath.Join(t.TempDir(), "audit.db")))
	LogLLMInteraction("conv-audit-2", "gpt-4o", "openai/gpt-4o", "openai",
		nil, "reply", 1, 1, nil)

	req := httptest.NewRequest("GET", "/api/v1/audit?conversation_id=conv-audit-2", nil)
	w := httptest.NewRecorder()
	handleAuditHistory(w, req)
	require.Equal(t, 200, w.Code)

	var body struct {
		ConversationID string       `json:"conversation_id"`
		Entries        []AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "conv-audit-2", body.ConversationID)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "reply", body.Entries[0].FullOutput)
}

func TestAuditHistoryEndpointRequiresConversationID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/audit", nil)
	w := httptest.NewRecorder()
	handleAuditHistory(w, req)
	assert.Equal(t, 400, w.Code)
}
