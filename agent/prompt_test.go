package agent

import (
	"strings"
	"testing"

	"github.com/BaSui01/agentrelay/testutil/fixtures"
	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
)

func TestRenderSystemPrompt(t *testing.T) {
	def := fixtures.Agent("desktop", 5, "mouse_move")
	toolDefs := []types.ToolDefinition{fixtures.MouseMoveTool()}

	t.Run("default template", func(t *testing.T) {
		got := RenderSystemPrompt(def, toolDefs, nil, true)
		assert.Contains(t, got, "Your purpose: test agent desktop")
		assert.Contains(t, got, "- Mouse Move (mouse_move): Move the mouse pointer")
		assert.Contains(t, got, "No agents available")
		assert.NotContains(t, got, "parameters:")
		assert.NotContains(t, got, "Action: tool_id(")
		assert.NotContains(t, got, "{tools}")
	})

	t.Run("custom template", func(t *testing.T) {
		custom := def.Clone()
		custom.SystemPrompt = "Purpose={purpose}\nTools:\n{tools}\nAgents:\n{available_agents}"
		web := fixtures.Agent("web", 5)
		got := RenderSystemPrompt(custom, nil, []*types.AgentDefinition{web}, true)
		assert.Equal(t, "Purpose=test agent desktop\nTools:\nNo tools available\nAgents:\n- web: test agent web", got)
	})

	t.Run("text fallback", func(t *testing.T) {
		got := RenderSystemPrompt(def, toolDefs, nil, false)
		assert.Contains(t, got, "parameters: x: number, required; y: number, required")
		assert.True(t, strings.HasSuffix(got, "Reply without an Action line once the task is complete."))
	})

	t.Run("text fallback without tools", func(t *testing.T) {
		got := RenderSystemPrompt(def, nil, nil, false)
		assert.NotContains(t, got, "Action: tool_id(")
	})
}

func TestFormatObservation(t *testing.T) {
	mouse := fixtures.MouseMoveTool()

	tests := []struct {
		name string
		def  types.ToolDefinition
		res  types.ToolCallResult
		max  int
		want string
	}{
		{
			name: "success",
			def:  mouse,
			res:  types.ToolCallResult{ToolID: "mouse_move", Success: true, Result: "Mouse moved to (10, 20)"},
			want: "[SUCCESS] Tool 'Mouse Move': Succeeded\nDetails: Mouse moved to (10, 20)",
		},
		{
			name: "failure",
			def:  mouse,
			res:  types.ToolCallResult{ToolID: "mouse_move", Error: "screen locked"},
			want: "[FAILED] Tool 'Mouse Move': Failed\nDetails: screen locked",
		},
		{
			name: "empty payload",
			def:  mouse,
			res:  types.ToolCallResult{ToolID: "mouse_move", Success: true},
			want: "[SUCCESS] Tool 'Mouse Move': Succeeded\nDetails: no output",
		},
		{
			name: "hidden result",
			def:  types.ToolDefinition{ID: "take_screenshot", Name: "Take Screenshot", HideResult: true},
			res:  types.ToolCallResult{ToolID: "take_screenshot", Success: true, Result: "iVBORw0KGgo..."},
			want: "[SUCCESS] Tool 'Take Screenshot': Succeeded\nDetails: result delivered to the user, not shown here",
		},
		{
			name: "unknown tool uses id",
			res:  types.ToolCallResult{ToolID: "open_browser", Error: "tool not found"},
			want: "[FAILED] Tool 'open_browser': Failed\nDetails: tool not found",
		},
		{
			name: "truncated",
			def:  mouse,
			res:  types.ToolCallResult{ToolID: "mouse_move", Success: true, Result: "abcdefghij"},
			max:  4,
			want: "[SUCCESS] Tool 'Mouse Move': Succeeded\nDetails: abcd... (truncated)",
		},
		{
			name: "structured payload",
			def:  mouse,
			res:  types.ToolCallResult{ToolID: "mouse_move", Success: true, Result: map[string]any{"x": 1}},
			want: "[SUCCESS] Tool 'Mouse Move': Succeeded\nDetails: {\"x\":1}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatObservation(tt.def, tt.res, tt.max))
		})
	}
}

func TestActionTurn(t *testing.T) {
	msg := actionTurn("Move it.", types.ToolCallRequest{ToolID: "mouse_move", Arguments: map[string]any{"y": 20.0, "x": 10.0}})
	assert.Equal(t, "Thought: Move it.\nAction: mouse_move(x=10, y=20)", msg.Content)

	msg = actionTurn("", types.ToolCallRequest{ToolID: "get_mouse_position"})
	assert.Equal(t, "Action: get_mouse_position()", msg.Content)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "hé... (truncated)", truncate("héllo", 2))
	assert.Equal(t, "héllo", truncate("héllo", 0))
}
