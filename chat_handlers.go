package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatrelay/providers"
	"chatrelay/store"
)

// maxRequestBody caps chat request bodies at 1MB
const maxRequestBody = 1 << 20

// ChatRequestMessage is one message in an incoming chat request
type ChatRequestMessage struct {
	ID        string                 `json:"id,omitempty"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	CreatedAt string                 `json:"created_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ChatRequest is the AI-SDK-compatible chat completion request
type ChatRequest struct {
	Messages         []ChatRequestMessage `json:"messages"`
	Model            string               `json:"model,omitempty"`
	Stream           bool                 `json:"stream,omitempty"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	Temperature      float64              `json:"temperature,omitempty"`
	TopP             float64              `json:"top_p,omitempty"`
	FrequencyPenalty float64              `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64              `json:"presence_penalty,omitempty"`
	Stop             []string             `json:"stop,omitempty"`
	User             string               `json:"user,omitempty"`
	ConversationID   string               `json:"conversation_id,omitempty"`
}

// ChatMessage is the assistant reply shape returned to the frontend
type ChatMessage struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// errorEnvelope is the JSON error body for hard failures
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	var env errorEnvelope
	env.Error.Message = message
	env.Error.Type = "api_error"
	env.Error.Code = code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
}

// validateMessages checks the role whitelist and non-emptiness
func validateMessages(msgs []ChatRequestMessage) error {
	if len(msgs) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for _, m := range msgs {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("invalid message role: %q", m.Role)
		}
	}
	return nil
}

func toProviderMessages(msgs []ChatRequestMessage) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// handleChatCompletions serves POST /api/v1/chat/completions
func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rateLimitAllow(r.RemoteAddr) {
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded", "rate_limited")
		return
	}

	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_request")
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	if req.Model == "" {
		req.Model = defaultModel
	}

	providerType := detectProvider(req.Model)
	configured := providerConfigured(providerType)
	log.Printf("[Chat] model=%s provider=%s configured=%t stream=%t",
		req.Model, providerType, configured, req.Stream)

	persistUserTurn(&req)

	if !configured {
		serveFallback(w, &req, string(providerType))
		return
	}

	ensureDeployment(req.Model)

	params := &RouterParams{
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Stop:             req.Stop,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		User:             req.User,
		ConversationID:   req.ConversationID,
	}
	messages := toProviderMessages(req.Messages)

	if req.Stream {
		serveStream(w, &req, messages, params)
		return
	}

	resp, err := ChatWithRouter(messages, req.Model, params, nil)
	if err != nil {
		log.Printf("[Chat] upstream error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error(), string(providerType)+"_error")
		return
	}

	reply := ChatMessage{
		ID:        generateRequestID(),
		Role:      "assistant",
		Content:   resp.Content,
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"model":         req.Model,
			"finish_reason": resp.FinishReason,
			"usage": UIUsage{
				PromptTokens:     resp.InputTokens,
				CompletionTokens: resp.OutputTokens,
				TotalTokens:      resp.InputTokens + resp.OutputTokens,
			},
		},
	}
	persistAssistantTurn(&req, resp.Content, resp, false)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

// serveStream relays a routed upstream stream as AI-SDK UI message events
func serveStream(w http.ResponseWriter, req *ChatRequest, messages []providers.Message, params *RouterParams) {
	sw, err := newUIStreamWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sw.Close()

	ch := make(chan providers.StreamChunk, 16)
	go ChatWithRouter(messages, req.Model, params, ch)

	// If we stop consuming early (client gone, upstream error) the producer
	// still needs the channel drained to unblock and clean up.
	defer func() {
		go func() {
			for range ch {
			}
		}()
	}()

	sw.Send(UIStreamChunk{Type: "text-start"})

	var content string
	var usage *UIUsage
	for chunk := range ch {
		if chunk.Error != nil {
			log.Printf("[Chat] stream error: %v", chunk.Error)
			sw.SendError(chunk.Error.Error())
			return
		}
		if chunk.Data != "" {
			content += chunk.Data
			if err := sw.SendText(chunk.Data); err != nil {
				// Client went away
				return
			}
		}
		if chunk.Done && chunk.Usage != nil {
			usage = &UIUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}

	sw.Send(UIStreamChunk{Type: "text-finish"})
	sw.SendFinish(usage)

	persistAssistantTurn(req, content, nil, true)
}

// serveFallback answers without an upstream provider
func serveFallback(w http.ResponseWriter, req *ChatRequest, providerName string) {
	lastRole := req.Messages[len(req.Messages)-1].Role
	content := fallbackResponse(lastRole)

	persistAssistantTurn(req, content, nil, req.Stream)

	if req.Stream {
		sw, err := newUIStreamWriter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer sw.Close()
		streamFallback(sw, content)
		return
	}

	reply := ChatMessage{
		ID:        generateRequestID(),
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"model":   req.Model,
			"warning": fmt.Sprintf("no API key configured for provider %s; canned response served", providerName),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

// truncateTitle shortens s to at most max runes, never splitting a rune
func truncateTitle(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// persistUserTurn saves the latest user message when the request names a
// conversation. Best effort only.
func persistUserTurn(req *ChatRequest) {
	if chatStore == nil || req.ConversationID == "" {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return
	}

	title := truncateTitle(last.Content, 80)
	if _, err := chatStore.EnsureConversation(req.ConversationID, title, req.Model); err != nil {
		log.Printf("[Store] failed to ensure conversation: %v", err)
		return
	}
	if _, err := chatStore.AddMessage(&store.StoredMessage{
		ConversationID: req.ConversationID,
		Role:           "user",
		Content:        last.Content,
		Model:          req.Model,
	}); err != nil {
		log.Printf("[Store] failed to save user message: %v", err)
	}
}

// persistAssistantTurn saves the assistant reply. Best effort only.
func persistAssistantTurn(req *ChatRequest, content string, resp *LLMResponse, streaming bool) {
	if chatStore == nil || req.ConversationID == "" || content == "" {
		return
	}
	msg := &store.StoredMessage{
		ConversationID: req.ConversationID,
		Role:           "assistant",
		Content:        content,
		Model:          req.Model,
		Streaming:      streaming,
	}
	if resp != nil {
		msg.PromptTokens = resp.InputTokens
		msg.OutputTokens = resp.OutputTokens
		msg.FinishReason = resp.FinishReason
	}
	if _, err := chatStore.AddMessage(msg); err != nil {
		log.Printf("[Store] failed to save assistant message: %v", err)
	}
}

// legacyChatRequest is the older frontend shape
type legacyChatRequest struct {
	Messages []ChatRequestMessage `json:"messages"`
	Model    string               `json:"model,omitempty"`
}

// handleLegacyChat serves POST /api/chat for the pre-AI-SDK frontend
func handleLegacyChat(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rateLimitAllow(r.RemoteAddr) {
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded", "rate_limited")
		return
	}

	var req legacyChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_request")
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	if req.Model == "" {
		req.Model = defaultModel
	}

	w.Header().Set("Content-Type", "application/json")

	providerType := detectProvider(req.Model)
	if !providerConfigured(providerType) {
		lastRole := req.Messages[len(req.Messages)-1].Role
		json.NewEncoder(w).Encode(map[string]string{
			"role":    "assistant",
			"content": fallbackResponse(lastRole),
			"warning": fmt.Sprintf("no API key configured for provider %s", providerType),
		})
		return
	}

	ensureDeployment(req.Model)
	resp, err := ChatWithRouter(toProviderMessages(req.Messages), req.Model, nil, nil)
	if err != nil {
		log.Printf("[Chat] legacy upstream error: %v", err)
		lastRole := req.Messages[len(req.Messages)-1].Role
		json.NewEncoder(w).Encode(map[string]string{
			"role":    "assistant",
			"content": fallbackResponse(lastRole),
			"error":   err.Error(),
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"role":    "assistant",
		"content": resp.Content,
	})
}
