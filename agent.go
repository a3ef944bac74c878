package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/providers"
)

// AgentConfig describes an agent
type AgentConfig struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Model         string   `json:"model,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
}

// Agent is a registered agent
type Agent struct {
	ID        string      `json:"id"`
	Config    AgentConfig `json:"config"`
	CreatedAt time.Time   `json:"created_at"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult pairs a tool call with its outcome
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Tool       string `json:"tool"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AgentExecution is the outcome of one agent run
type AgentExecution struct {
	AgentID     string       `json:"agent_id"`
	Response    string       `json:"response"`
	Iterations  int          `json:"iterations"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	Duration    string       `json:"duration"`
}

// AgentManager holds agents in memory
type AgentManager struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	mcp    *MCPManager
}

var agentManager *AgentManager

// NewAgentManager creates an agent manager. mcp may be nil.
func NewAgentManager(mcp *MCPManager) *AgentManager {
	return &AgentManager{
		agents: make(map[string]*Agent),
		mcp:    mcp,
	}
}

// Create registers a new agent from a config
func (am *AgentManager) Create(cfg AgentConfig) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}

	agent := &Agent{
		ID:        uuid.NewString(),
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}

	am.mu.Lock()
	am.agents[agent.ID] = agent
	am.mu.Unlock()
	return agent, nil
}

// Get returns an agent by ID
func (am *AgentManager) Get(id string) (*Agent, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	agent, ok := am.agents[id]
	return agent, ok
}

// List returns all agents
func (am *AgentManager) List() []*Agent {
	am.mu.RLock()
	defer am.mu.RUnlock()
	out := make([]*Agent, 0, len(am.agents))
	for _, a := range am.agents {
		out = append(out, a)
	}
	return out
}

// Delete removes an agent
func (am *AgentManager) Delete(id string) bool {
	am.mu.Lock()
	defer am.mu.Unlock()
	if _, ok := am.agents[id]; !ok {
		return false
	}
	delete(am.agents, id)
	return true
}

// toolProtocolPrompt teaches the model the tool-calling convention. The
// model answers with plain text when done, or a single JSON object naming
// a tool when it needs one.
const toolProtocolPrompt = `You may use tools. To call a tool, reply with ONLY a JSON object of the form {"tool": "<name>", "args": {...}} and nothing else. Tool results will be provided in a follow-up message. When you have the final answer, reply with plain text.

Available tools:
`

// Execute runs the agent's iterative tool-calling loop: each round the
// model either answers (done) or requests one tool call, whose result is
// appended for the next round.
func (am *AgentManager) Execute(ctx context.Context, agent *Agent, input string) (*AgentExecution, error) {
	start := time.Now()
	exec := &AgentExecution{
		AgentID:   agent.ID,
		StartedAt: start.UTC(),
	}

	system := agent.Config.SystemPrompt
	tools := am.availableTools(ctx, agent.Config.Tools)
	if len(tools) > 0 {
		var sb strings.Builder
		sb.WriteString(toolProtocolPrompt)
		for name, desc := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
		}
		if system != "" {
			system += "\n\n"
		}
		system += sb.String()
	}

	messages := []providers.Message{}
	if system != "" {
		messages = append(messages, providers.Message{Role: "system", Content: system})
	}
	messages = append(messages, providers.Message{Role: "user", Content: input})

	params := &RouterParams{
		Temperature: agent.Config.Temperature,
	}

	for i := 0; i < agent.Config.MaxIterations; i++ {
		exec.Iterations = i + 1

		ensureDeployment(agent.Config.Model)
		resp, err := ChatWithRouter(messages, agent.Config.Model, params, nil)
		if err != nil {
			return nil, fmt.Errorf("agent model call failed: %w", err)
		}

		call, ok := parseToolCall(resp.Content)
		if !ok {
			exec.Response = resp.Content
			exec.Duration = time.Since(start).String()
			return exec, nil
		}
		if _, known := tools[call.Tool]; !known {
			// Model asked for a tool it was never offered; treat the raw
			// reply as the answer
			exec.Response = resp.Content
			exec.Duration = time.Since(start).String()
			return exec, nil
		}

		call.ID = uuid.NewString()
		exec.ToolCalls = append(exec.ToolCalls, *call)
		log.Printf("[Agent] %s iteration %d: tool %s", agent.Config.Name, i+1, call.Tool)

		result := ToolResult{ToolCallID: call.ID, Tool: call.Tool}
		output, err := am.callTool(ctx, call.Tool, call.Args)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Result = output
		}
		exec.ToolResults = append(exec.ToolResults, result)

		messages = append(messages,
			providers.Message{Role: "assistant", Content: resp.Content},
			providers.Message{Role: "user", Content: formatToolResult(result)},
		)
	}

	exec.Response = "Maximum iterations reached without a final answer."
	exec.Duration = time.Since(start).String()
	return exec, nil
}

func formatToolResult(result ToolResult) string {
	if result.Error != "" {
		return fmt.Sprintf("Tool %s failed: %s", result.Tool, result.Error)
	}
	return fmt.Sprintf("Tool %s result: %s", result.Tool, result.Result)
}

// parseToolCall recognizes a reply that is a single JSON tool invocation
func parseToolCall(content string) (*ToolCall, bool) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var call ToolCall
	if err := json.Unmarshal([]byte(trimmed), &call); err != nil || call.Tool == "" {
		return nil, false
	}
	return &call, true
}

// builtinTools maps builtin tool names to descriptions
var builtinTools = map[string]string{
	"current_time": "Returns the current UTC time. No arguments.",
	"calculator":   `Evaluates a simple arithmetic expression. Args: {"expression": "<a> <op> <b>"} with op one of + - * /.`,
	"echo":         `Returns its input. Args: {"text": "..."}.`,
}

// availableTools resolves the agent's tool list against builtins and MCP
// tools, returning name -> description. An empty configured list means all
// builtins.
func (am *AgentManager) availableTools(ctx context.Context, configured []string) map[string]string {
	if len(configured) == 0 {
		builtins := make(map[string]string, len(builtinTools))
		for name, desc := range builtinTools {
			builtins[name] = desc
		}
		return builtins
	}

	all := am.allTools(ctx)
	selected := make(map[string]string)
	for _, name := range configured {
		if desc, ok := all[name]; ok {
			selected[name] = desc
		} else {
			log.Printf("[Agent] configured tool %q not available", name)
		}
	}
	return selected
}

// allTools returns every builtin and MCP tool, name -> description
func (am *AgentManager) allTools(ctx context.Context) map[string]string {
	all := make(map[string]string, len(builtinTools))
	for name, desc := range builtinTools {
		all[name] = desc
	}
	if am.mcp != nil {
		listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if serverTools, err := am.mcp.ListTools(listCtx); err == nil {
			for server, tools := range serverTools {
				for _, tool := range tools {
					all[server+"."+tool.Name] = tool.Description
				}
			}
		}
	}
	return all
}

// callTool dispatches a tool call to a builtin or an MCP server
func (am *AgentManager) callTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "current_time":
		return time.Now().UTC().Format(time.RFC3339), nil
	case "calculator":
		var a struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid calculator args: %w", err)
		}
		return evalExpression(a.Expression)
	case "echo":
		var a struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid echo args: %w", err)
		}
		return a.Text, nil
	}

	if strings.Contains(name, ".") && am.mcp != nil {
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return am.mcp.CallTool(callCtx, name, args)
	}

	return "", fmt.Errorf("unknown tool: %q", name)
}

// evalExpression evaluates "a op b" with op one of + - * /
func evalExpression(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return "", fmt.Errorf("expression must be of the form \"a op b\", got %q", expr)
	}

	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", fmt.Errorf("invalid operand %q", fields[0])
	}
	b, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return "", fmt.Errorf("invalid operand %q", fields[2])
	}

	var result float64
	switch fields[1] {
	case "+":
		result = a + b
	case "-":
		result = a - b
	case "*":
		result = a * b
	case "/":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return "", fmt.Errorf("unsupported operator %q", fields[1])
	}

	return strconv.FormatFloat(result, 'f', -1, 64), nil
}
