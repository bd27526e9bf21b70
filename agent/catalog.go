package agent

import (
	"context"
	"time"

	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
)

// Catalog is the read side of the agent store. The engine never mutates it.
//
// Get returns an error carrying AGENT_NOT_FOUND when id is unknown.
type Catalog interface {
	Get(ctx context.Context, id string) (*types.AgentDefinition, error)
	List(ctx context.Context) ([]*types.AgentDefinition, error)
}

// Preset agent ids.
const (
	RootAgentID              = "orchestrator-agent"
	DesktopAutomationAgentID = "desktop-automation-agent"
	WebResearchAgentID       = "web-research-agent"
	ConversationalAgentID    = "conversational-agent"
	CodeAssistantAgentID     = "code-assistant-agent"
	TestDebugAgentID         = "test-debug-agent"
)

// Presets returns the built-in agents used to seed an empty catalog store.
func Presets() []*types.AgentDefinition {
	now := time.Now().UTC()
	return []*types.AgentDefinition{
		{
			ID:      RootAgentID,
			Name:    "Orchestrator",
			Purpose: "Break the user's request into sub-tasks and delegate each one to the specialist agent best suited for it.",
			Tools: []types.ToolReference{
				{ToolID: tools.DelegateToolID, Enabled: true},
			},
			MaxIterations: 10,
			IsLocked:      true,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:      DesktopAutomationAgentID,
			Name:    "Desktop Automation",
			Purpose: "Operate the user's desktop with the mouse and keyboard, and take screenshots to check the result.",
			Tools: []types.ToolReference{
				{ToolID: "mouse_move", Enabled: true},
				{ToolID: "mouse_click", Enabled: true},
				{ToolID: "mouse_scroll", Enabled: true},
				{ToolID: "keyboard_input", Enabled: true},
				{ToolID: "keyboard_command", Enabled: true},
				{ToolID: "get_mouse_position", Enabled: true},
				{ToolID: "take_screenshot", Enabled: true},
			},
			MaxIterations: 15,
			IsLocked:      true,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:      WebResearchAgentID,
			Name:    "Web Research",
			Purpose: "Fetch web pages and summarize the information relevant to the task.",
			Tools: []types.ToolReference{
				{ToolID: tools.FetchURLToolID, Enabled: true},
			},
			MaxIterations: 8,
			IsLocked:      true,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:      ConversationalAgentID,
			Name:    "Conversational",
			Purpose: "Talk with the user in plain language, relay progress at a high level, and act only when the user explicitly asks for an action.",
			Tools: []types.ToolReference{
				{ToolID: "take_screenshot", Enabled: true},
			},
			MaxIterations: 3,
			IsLocked:      true,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			ID:      CodeAssistantAgentID,
			Name:    "Code Assistant",
			Purpose: "Analyze, write and debug code in the user's editor, reasoning step by step before each action.",
			Tools: []types.ToolReference{
				{ToolID: "keyboard_input", Enabled: true},
				{ToolID: "take_screenshot", Enabled: true},
				{ToolID: "mouse_move", Enabled: true},
				{ToolID: "mouse_click", Enabled: true},
			},
			MaxIterations: 4,
			IsLocked:      true,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			// 测试模式：严格按用户给出的参数调用工具，即使参数无效，执行一次后报告结果
			ID:      TestDebugAgentID,
			Name:    "Test & Debug",
			Purpose: "Exercise tool error handling: call tools exactly as instructed, even with invalid arguments, then report what happened after one action.",
			Tools: []types.ToolReference{
				{ToolID: "mouse_move", Enabled: true},
				{ToolID: "mouse_click", Enabled: true},
				{ToolID: "keyboard_input", Enabled: true},
				{ToolID: "keyboard_command", Enabled: true},
				{ToolID: "get_mouse_position", Enabled: true},
				{ToolID: "take_screenshot", Enabled: true},
				{ToolID: "mouse_scroll", Enabled: true},
			},
			MaxIterations: 3,
			IsLocked:      true,
			IsDefault:     true,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}
