package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// UIStreamChunk is one event in an AI-SDK UI message stream. Type selects
// which of the optional fields are populated.
type UIStreamChunk struct {
	Type string `json:"type"`

	// text-delta
	TextDelta string `json:"textDelta,omitempty"`

	// tool-call / tool-result
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// step-finish
	IsContinued *bool `json:"isContinued,omitempty"`

	// finish
	Usage     *UIUsage    `json:"usage,omitempty"`
	Reasoning string      `json:"reasoning,omitempty"`
	Sources   interface{} `json:"sources,omitempty"`
	Logprobs  interface{} `json:"logprobs,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// data
	Data interface{} `json:"data,omitempty"`
}

// UIUsage is the AI-SDK usage block
type UIUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

const streamKeepAliveInterval = 15 * time.Second

// uiStreamWriter serializes UI message chunks as SSE events, flushing per
// event and emitting comment keep-alive frames while the upstream is quiet.
type uiStreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
}

// newUIStreamWriter sets the SSE headers and starts the keep-alive ticker.
// Returns an error when the ResponseWriter cannot flush.
func newUIStreamWriter(w http.ResponseWriter) (*uiStreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &uiStreamWriter{
		w:       w,
		flusher: flusher,
		stop:    make(chan struct{}),
	}
	go sw.keepAlive()
	return sw, nil
}

func (sw *uiStreamWriter) keepAlive() {
	ticker := time.NewTicker(streamKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sw.mu.Lock()
			if !sw.closed {
				fmt.Fprint(sw.w, ": keep-alive\n\n")
				sw.flusher.Flush()
			}
			sw.mu.Unlock()
		case <-sw.stop:
			return
		}
	}
}

// Send writes one chunk as an SSE event
func (sw *uiStreamWriter) Send(chunk UIStreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to marshal stream chunk: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stream closed")
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// SendText emits a text-delta chunk
func (sw *uiStreamWriter) SendText(delta string) error {
	return sw.Send(UIStreamChunk{Type: "text-delta", TextDelta: delta})
}

// SendError emits an error chunk
func (sw *uiStreamWriter) SendError(msg string) error {
	return sw.Send(UIStreamChunk{Type: "error", Error: msg})
}

// SendFinish emits the terminal finish chunk
func (sw *uiStreamWriter) SendFinish(usage *UIUsage) error {
	return sw.Send(UIStreamChunk{Type: "finish", Usage: usage})
}

// Close stops the keep-alive ticker; the stream must not be written after
func (sw *uiStreamWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return
	}
	sw.closed = true
	close(sw.stop)
}
