package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// MCPServerConfig describes one MCP server launched over stdio
type MCPServerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	Enabled bool     `json:"enabled"`
}

// MCPConfig is the mcp_servers.json shape
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers"`
}

// MCPManager exposes tools from configured MCP servers to the agent layer.
// Tool names are namespaced "server.tool".
type MCPManager struct {
	mu      sync.RWMutex
	servers map[string]MCPServerConfig
}

var mcpManager *MCPManager

// NewMCPManager loads MCP server configuration from path. A missing file
// yields an empty manager, not an error.
func NewMCPManager(path string) (*MCPManager, error) {
	m := &MCPManager{servers: map[string]MCPServerConfig{}}
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read MCP config: %w", err)
	}

	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config: %w", err)
	}

	for name, server := range cfg.Servers {
		if server.Enabled {
			m.servers[name] = server
		}
	}
	log.Printf("[MCP] %d server(s) enabled", len(m.servers))
	return m, nil
}

// ListTools collects tools from all enabled servers, keyed by server name
func (m *MCPManager) ListTools(ctx context.Context) (map[string][]mcp.Tool, error) {
	m.mu.RLock()
	servers := make(map[string]MCPServerConfig, len(m.servers))
	for name, s := range m.servers {
		servers[name] = s
	}
	m.mu.RUnlock()

	var mu sync.Mutex
	var wg errgroup.Group
	result := map[string][]mcp.Tool{}
	for name, server := range servers {
		name, server := name, server
		wg.Go(func() error {
			tools, err := m.toolsFor(ctx, name, server)
			if err != nil {
				return err
			}
			mu.Lock()
			result[name] = tools
			mu.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (m *MCPManager) toolsFor(ctx context.Context, name string, server MCPServerConfig) ([]mcp.Tool, error) {
	cli, err := client.NewStdioMCPClient(
		server.Command,
		append(os.Environ(), server.Env...),
		server.Args...,
	)
	if err != nil {
		return nil, fmt.Errorf("could not start %s: %w", name, err)
	}
	defer cli.Close()

	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("could not initialize %s: %w", name, err)
	}
	tools, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("could not list tools for %s: %w", name, err)
	}
	return tools.Tools, nil
}

// CallTool invokes a namespaced "server.tool" with JSON arguments and
// returns the concatenated text content of the result
func (m *MCPManager) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	serverName, toolName, ok := strings.Cut(name, ".")
	if !ok {
		return "", fmt.Errorf("invalid MCP tool name: %q", name)
	}

	m.mu.RLock()
	server, exists := m.servers[serverName]
	m.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("unknown MCP server: %q", serverName)
	}

	cli, err := client.NewStdioMCPClient(
		server.Command,
		append(os.Environ(), server.Env...),
		server.Args...,
	)
	if err != nil {
		return "", fmt.Errorf("could not start %s: %w", serverName, err)
	}
	defer cli.Close()

	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return "", fmt.Errorf("could not initialize %s: %w", serverName, err)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = toolName
	request.Params.Arguments = arguments

	result, err := cli.CallTool(ctx, request)
	if err != nil {
		return "", fmt.Errorf("tool call failed: %w", err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}
