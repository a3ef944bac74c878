package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"chatrelay/providers"
	"chatrelay/routing"
)

// LLMResponse captures one model call for handlers and the audit trail
type LLMResponse struct {
	Content      string
	Model        string
	Deployment   string
	Provider     string
	InputHash    string
	OutputHash   string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// RouterParams carries per-request generation parameters
type RouterParams struct {
	MaxTokens        int
	Temperature      float64
	TopP             float64
	Stop             []string
	FrequencyPenalty float64
	PresencePenalty  float64
	User             string
	ConversationID   string
}

// ChatWithRouter routes a chat request through the deployment router. When
// stream is non-nil the call blocks until the upstream stream ends, tees
// chunks to the caller, and closes the channel; callers run it in a
// goroutine and consume chunks concurrently.
func ChatWithRouter(messages []providers.Message, requestedModel string, params *RouterParams, stream chan<- providers.StreamChunk) (*LLMResponse, error) {
	if modelRouter == nil {
		err := fmt.Errorf("model router not initialized")
		if stream != nil {
			stream <- providers.StreamChunk{Error: err}
			close(stream)
		}
		return nil, err
	}
	if params == nil {
		params = &RouterParams{}
	}

	var fullInput string
	for _, msg := range messages {
		fullInput += msg.Role + ": " + msg.Content + "\n"
	}

	unifiedReq := &providers.UnifiedRequest{
		Model:            requestedModel,
		Messages:         messages,
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		Stop:             params.Stop,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		User:             params.User,
		Stream:           stream != nil,
	}
	if unifiedReq.Temperature == 0 {
		unifiedReq.Temperature = 0.7
	}

	reqCtx := &routing.RequestContext{
		RequestID: generateRequestID(),
		ModelID:   requestedModel,
	}

	decision, err := modelRouter.RouteRequest(context.Background(), requestedModel, reqCtx)
	if err != nil {
		err = fmt.Errorf("routing failed: %w", err)
		if stream != nil {
			stream <- providers.StreamChunk{Error: err}
			close(stream)
		}
		return nil, err
	}

	log.Printf("[Router] %s -> deployment %s (provider %s, model %s)",
		requestedModel, decision.Primary.ID, decision.Primary.Provider, decision.Primary.ProviderModelID)

	response := &LLMResponse{
		Model:       requestedModel,
		Deployment:  decision.Primary.ID,
		Provider:    string(decision.Primary.Provider),
		InputHash:   generateSignature(fullInput),
		InputTokens: countTokens(fullInput, requestedModel),
	}

	if stream != nil {
		err = streamWithRouter(unifiedReq, decision, stream, response)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		unifiedResp, execErr := modelRouter.ExecuteRequest(ctx, unifiedReq, decision)
		err = execErr
		if err == nil && len(unifiedResp.Choices) > 0 {
			response.Content = unifiedResp.Choices[0].Message.Content
			response.OutputHash = generateSignature(response.Content)
			response.FinishReason = unifiedResp.Choices[0].FinishReason
			if unifiedResp.Usage.CompletionTokens > 0 {
				response.InputTokens = unifiedResp.Usage.PromptTokens
				response.OutputTokens = unifiedResp.Usage.CompletionTokens
			} else {
				response.OutputTokens = countTokens(response.Content, requestedModel)
			}
		}
	}

	go LogLLMInteraction(params.ConversationID, requestedModel, response.Deployment,
		response.Provider, messages, response.Content,
		response.InputTokens, response.OutputTokens, err)

	if err != nil {
		return nil, err
	}
	return response, nil
}

// streamWithRouter drives a routed stream, teeing chunks to out while
// accumulating the response for auditing. Closes out when done.
func streamWithRouter(req *providers.UnifiedRequest, decision *routing.RoutingDecision, out chan<- providers.StreamChunk, response *LLMResponse) error {
	defer close(out)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	inner := make(chan providers.StreamChunk, 16)
	go modelRouter.ExecuteStream(ctx, req, decision, inner)

	var content string
	var streamErr error
	for chunk := range inner {
		if chunk.Error != nil {
			streamErr = chunk.Error
		}
		if chunk.Data != "" {
			content += chunk.Data
		}
		if chunk.Done {
			response.FinishReason = chunk.FinishReason
			if chunk.Usage != nil && chunk.Usage.CompletionTokens > 0 {
				response.InputTokens = chunk.Usage.PromptTokens
				response.OutputTokens = chunk.Usage.CompletionTokens
			}
		}
		out <- chunk
	}

	response.Content = content
	response.OutputHash = generateSignature(content)
	if response.OutputTokens == 0 {
		response.OutputTokens = countTokens(content, response.Model)
	}

	return streamErr
}
