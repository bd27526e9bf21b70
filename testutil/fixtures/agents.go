// =============================================================================
// 📦 测试数据工厂 - Agent 与工具定义
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/agentrelay/types"
)

// Agent 返回启用了给定工具的 Agent 定义
func Agent(id string, maxIterations int, toolIDs ...string) *types.AgentDefinition {
	refs := make([]types.ToolReference, 0, len(toolIDs))
	for _, t := range toolIDs {
		refs = append(refs, types.ToolReference{ToolID: t, Enabled: true})
	}
	now := time.Now().UTC()
	return &types.AgentDefinition{
		ID:            id,
		Name:          id,
		Purpose:       "test agent " + id,
		Tools:         refs,
		ModelID:       "mock-model",
		MaxIterations: maxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MouseMoveTool 返回 mouse_move 工具定义
func MouseMoveTool() types.ToolDefinition {
	return types.ToolDefinition{
		ID:          "mouse_move",
		Name:        "Mouse Move",
		Description: "Move the mouse pointer to absolute screen coordinates.",
		Source:      types.ToolSourceRemote,
		Parameters: []types.ParameterSpec{
			{Name: "x", Type: types.ParamNumber, Required: true},
			{Name: "y", Type: types.ParamNumber, Required: true},
		},
	}
}

// KeyboardInputTool 返回 keyboard_input 工具定义
func KeyboardInputTool() types.ToolDefinition {
	return types.ToolDefinition{
		ID:          "keyboard_input",
		Name:        "Keyboard Input",
		Description: "Type text.",
		Source:      types.ToolSourceRemote,
		Parameters: []types.ParameterSpec{
			{Name: "text", Type: types.ParamString, Required: true},
		},
	}
}
