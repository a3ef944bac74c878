package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentManagerCRUD(t *testing.T) {
	am := NewAgentManager(nil)

	agent, err := am.Create(AgentConfig{Name: "helper", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, 5, agent.Config.MaxIterations)

	got, ok := am.Get(agent.ID)
	require.True(t, ok)
	assert.Equal(t, "helper", got.Config.Name)

	assert.Len(t, am.List(), 1)

	assert.True(t, am.Delete(agent.ID))
	assert.False(t, am.Delete(agent.ID))
	assert.Empty(t, am.List())
}

func TestAgentCreateRequiresName(t *testing.T) {
	am := NewAgentManager(nil)
	_, err := am.Create(AgentConfig{})
	assert.Error(t, err)
}

func TestParseToolCall(t *testing.T) {
	call, ok := parseToolCall(`{"tool": "calculator", "args": {"expression": "2 + 2"}}`)
	require.True(t, ok)
	assert.Equal(t, "calculator", call.Tool)

	call, ok = parseToolCall("```json\n{\"tool\": \"echo\", \"args\": {\"text\": \"hi\"}}\n```")
	require.True(t, ok)
	assert.Equal(t, "echo", call.Tool)

	_, ok = parseToolCall("The answer is 4.")
	assert.False(t, ok)

	_, ok = parseToolCall(`{"not_a_tool": true}`)
	assert.False(t, ok)
}

func TestEvalExpression(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"2 + 2", "4"},
		{"10 - 4", "6"},
		{"3 * 7", "21"},
		{"9 / 2", "4.5"},
	}
	for _, tc := range cases {
		got, err := evalExpression(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got)
	}

	_, err := evalExpression("1 / 0")
	assert.Error(t, err)
	_, err = evalExpression("1 ^ 2")
	assert.Error(t, err)
	_, err = evalExpression("nonsense")
	assert.Error(t, err)
}

func TestBuiltinToolDispatch(t *testing.T) {
	am := NewAgentManager(nil)

	out, err := am.callTool(context.Background(), "echo", json.RawMessage(`{"text": "ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", out)

	out, err = am.callTool(context.Background(), "calculator", json.RawMessage(`{"expression": "6 * 7"}`))
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	out, err = am.callTool(context.Background(), "current_time", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = am.callTool(context.Background(), "no_such_tool", nil)
	assert.Error(t, err)
}

func TestAvailableToolsDefaultsToBuiltins(t *testing.T) {
	am := NewAgentManager(nil)
	tools := am.availableTools(context.Background(), nil)
	assert.Len(t, tools, len(builtinTools))

	subset := am.availableTools(context.Background(), []string{"echo", "missing"})
	assert.Len(t, subset, 1)
	assert.Contains(t, subset, "echo")
}
