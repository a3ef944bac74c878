package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/models"
	"chatrelay/providers"
	"chatrelay/routing"
)

func TestMain(m *testing.M) {
	settings = Settings{
		HTTPPort:       8080,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}
	for _, key := range []string{"OPENAI_API_KEY", "GOOGLE_AI_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY"} {
		os.Unsetenv(key)
	}
	modelRouter = routing.NewRouter(routing.StrategyPriority)
	modelRegistry = models.NewModelRegistry()
	deploymentRegistry = models.NewDeploymentRegistry()
	os.Exit(m.Run())
}

func postChat(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/chat/completions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handleChatCompletions(w, req)
	return w
}

func TestChatCompletionsEmptyMessages(t *testing.T) {
	w := postChat(t, `{"messages": []}`)
	assert.Equal(t, 400, w.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "invalid_request", env.Error.Code)
}

func TestChatCompletionsInvalidRole(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "robot", "content": "hi"}]}`)
	assert.Equal(t, 400, w.Code)
}

func TestChatCompletionsMalformedJSON(t *testing.T) {
	w := postChat(t, `{"messages": [`)
	assert.Equal(t, 400, w.Code)
}

func TestChatCompletionsFallbackNonStream(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "user", "content": "hello"}]}`)
	require.Equal(t, 200, w.Code)

	var reply ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "assistant", reply.Role)
	assert.Contains(t, fallbackSentences, reply.Content)
	assert.Contains(t, reply.Metadata["warning"], "openai")
}

func TestChatCompletionsFallbackGreeting(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}]}`)
	require.Equal(t, 200, w.Code)

	var reply ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, fallbackGreeting, reply.Content)
}

func TestChatCompletionsFallbackStream(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "user", "content": "hello"}], "stream": true}`)
	require.Equal(t, 200, w.Code)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "v1", w.Header().Get("X-Vercel-AI-UI-Message-Stream"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	body := w.Body.String()
	assert.Contains(t, body, `"type":"text-start"`)
	assert.Contains(t, body, `"type":"text-delta"`)
	assert.Contains(t, body, `"type":"text-finish"`)
	assert.Contains(t, body, `"type":"finish"`)
}

func TestChatCompletionsStreamChunksAreValidSSE(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "user", "content": "tell me something"}], "stream": true}`)
	require.Equal(t, 200, w.Code)

	var deltas []string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk UIStreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		if chunk.Type == "text-delta" {
			deltas = append(deltas, chunk.TextDelta)
		}
	}
	require.NotEmpty(t, deltas)
	for _, delta := range deltas {
		assert.True(t, strings.HasSuffix(delta, " "), "delta %q should carry a trailing space", delta)
	}
	reassembled := strings.Join(deltas, "")
	assert.Contains(t, fallbackSentences, strings.TrimSuffix(reassembled, " "))
}

func TestChatCompletionsGeminiRoutesToFallbackWithoutKey(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "user", "content": "hi"}], "model": "gemini-1.5-pro"}`)
	require.Equal(t, 200, w.Code)

	var reply ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Contains(t, reply.Metadata["warning"], "gemini")
}

func TestChatCompletionsOPTIONSPreflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/api/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	handleChatCompletions(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLegacyChatFallback(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewBufferString(`{"messages": [{"role": "user", "content": "hey"}]}`))
	w := httptest.NewRecorder()
	handleLegacyChat(w, req)
	require.Equal(t, 200, w.Code)

	var reply map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "assistant", reply["role"])
	assert.Contains(t, fallbackSentences, reply["content"])
	assert.NotEmpty(t, reply["warning"])
}

func TestLegacyChatEmptyMessages(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewBufferString(`{"messages": []}`))
	w := httptest.NewRecorder()
	handleLegacyChat(w, req)
	assert.Equal(t, 400, w.Code)
}

// streamingFakeProvider streams a fixed number of chunks and signals done
// when its Stream call returns
type streamingFakeProvider struct {
	chunks int
	done   chan struct{}
}

func (p *streamingFakeProvider) TranslateRequest(ctx context.Context, req *providers.UnifiedRequest, d *models.Deployment) (*providers.ProviderRequest, error) {
	return &providers.ProviderRequest{URL: "fake://" + d.ID, Method: "POST"}, nil
}

func (p *streamingFakeProvider) Execute(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	return nil, fmt.Errorf("not used")
}

func (p *streamingFakeProvider) TranslateResponse(ctx context.Context, resp *providers.ProviderResponse, d *models.Deployment) (*providers.UnifiedResponse, error) {
	return &providers.UnifiedResponse{}, nil
}

func (p *streamingFakeProvider) Stream(ctx context.Context, req *providers.ProviderRequest, stream chan<- providers.StreamChunk) error {
	defer close(p.done)
	defer close(stream)
	for i := 0; i < p.chunks; i++ {
		stream <- providers.StreamChunk{Data: "word "}
	}
	stream <- providers.StreamChunk{Done: true, FinishReason: "stop"}
	return nil
}

func (p *streamingFakeProvider) ValidateConfig(d *models.Deployment) error { return nil }
func (p *streamingFakeProvider) HealthCheck(ctx context.Context, d *models.Deployment) error {
	return nil
}
func (p *streamingFakeProvider) GetInfo() providers.ProviderInfo {
	return providers.ProviderInfo{Name: "fake"}
}

// withTestRouter swaps in a router holding one fake deployment for the
// duration of a test
func withTestRouter(t *testing.T, p providers.Provider) {
	t.Helper()
	prev := modelRouter
	r := routing.NewRouter(routing.StrategyPriority)
	r.RegisterModel(&models.Model{ID: "fake-model", Name: "Fake Model"})
	r.RegisterProvider(models.ProviderOpenAI, p)
	r.RegisterDeployment(&models.Deployment{
		ID:              "fake-deployment",
		ModelID:         "fake-model",
		Provider:        models.ProviderOpenAI,
		ProviderModelID: "fake-model",
		Priority:        1,
		Weight:          100,
		Status:          models.DeploymentStatus{Available: true, Healthy: true},
	})
	modelRouter = r
	t.Cleanup(func() { modelRouter = prev })
}

// failingStreamWriter accepts the first body write, then behaves like a
// closed client connection
type failingStreamWriter struct {
	header http.Header
	writes int
}

func (f *failingStreamWriter) Header() http.Header {
	if f.header == nil {
		f.header = http.Header{}
	}
	return f.header
}

func (f *failingStreamWriter) WriteHeader(int) {}

func (f *failingStreamWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes > 1 {
		return 0, fmt.Errorf("client disconnected")
	}
	return len(p), nil
}

func (f *failingStreamWriter) Flush() {}

func TestServeStreamRoutingFailureEmitsErrorChunk(t *testing.T) {
	req := &ChatRequest{
		Model:    "unrouted-model",
		Stream:   true,
		Messages: []ChatRequestMessage{{Role: "user", Content: "hi"}},
	}

	w := httptest.NewRecorder()
	serveStream(w, req, toProviderMessages(req.Messages), &RouterParams{})

	body := w.Body.String()
	assert.Contains(t, body, `"type":"error"`)
	assert.NotContains(t, body, `"type":"finish"`)
}

func TestServeStreamDisconnectUnblocksProducer(t *testing.T) {
	// Far more chunks than the channel buffers hold, so a stalled consumer
	// would block the producer chain
	p := &streamingFakeProvider{chunks: 100, done: make(chan struct{})}
	withTestRouter(t, p)

	req := &ChatRequest{
		Model:    "fake-model",
		Stream:   true,
		Messages: []ChatRequestMessage{{Role: "user", Content: "hi"}},
	}
	serveStream(&failingStreamWriter{}, req, toProviderMessages(req.Messages), &RouterParams{})

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream stream still blocked after the client went away")
	}
}

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		model string
		want  models.ProviderType
	}{
		{"gpt-3.5-turbo", models.ProviderOpenAI},
		{"gpt-4o", models.ProviderOpenAI},
		{"gemini-1.5-pro", models.ProviderGemini},
		{"models/gemini-1.5-flash", models.ProviderGemini},
		{"claude-3-5-sonnet-20241022", models.ProviderAnthropic},
		{"meta-llama/llama-3.1-70b-instruct", models.ProviderOpenRouter},
		{"mistralai/mistral-large", models.ProviderOpenRouter},
		{"some-unknown-model", models.ProviderOpenAI},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, detectProvider(tc.model), "model %s", tc.model)
	}
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", truncateTitle("short", 80))
	assert.Equal(t, strings.Repeat("a", 80), truncateTitle(strings.Repeat("a", 100), 80))

	// Multi-byte runes must survive truncation intact
	title := strings.Repeat("日", 100)
	got := truncateTitle(title, 80)
	assert.Equal(t, strings.Repeat("日", 80), got)
	assert.True(t, utf8.ValidString(got))
}

func TestDefaultModelApplied(t *testing.T) {
	w := postChat(t, `{"messages": [{"role": "user", "content": "hi"}]}`)
	require.Equal(t, 200, w.Code)

	var reply ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, defaultModel, reply.Metadata["model"])
}
