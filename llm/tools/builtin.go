package tools

import "github.com/BaSui01/agentrelay/types"

// 内部工具 ID
const (
	DelegateToolID = "delegate_to_agent"
	FetchURLToolID = "fetch_url"
)

// DelegateToolDefinition describes the engine-internal delegation tool.
func DelegateToolDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		ID:          DelegateToolID,
		Name:        "Delegate to Agent",
		Description: "Hand a sub-task to a specialized agent and wait for its result.",
		Parameters: []types.ParameterSpec{
			{Name: "target_agent", Type: types.ParamString, Required: true, Description: "ID of the agent to delegate to"},
			{Name: "task", Type: types.ParamString, Required: true, Description: "Task description for the agent"},
			{Name: "context", Type: types.ParamString, Description: "Extra context passed along with the task"},
			{
				Name: "priority", Type: types.ParamString, Description: "Task priority",
				Enum: []string{"low", "normal", "high", "critical"}, Default: "normal",
			},
		},
		Source: types.ToolSourceLocal,
	}
}

// FetchURLDefinition describes the engine-internal web fetch tool.
func FetchURLDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		ID:          FetchURLToolID,
		Name:        "Fetch URL",
		Description: "Fetch a web page and return its readable text content.",
		Parameters: []types.ParameterSpec{
			{Name: "url", Type: types.ParamString, Required: true, Description: "Absolute http(s) URL"},
			{Name: "include_html", Type: types.ParamBoolean, Default: false, Description: "Return raw HTML instead of text"},
			{Name: "max_content_length", Type: types.ParamNumber, Default: float64(DefaultFetchMaxContent), Description: "Maximum characters of content"},
			{Name: "timeout_seconds", Type: types.ParamNumber, Default: float64(30), Description: "Request timeout in seconds"},
		},
		Source: types.ToolSourceLocal,
	}
}

// DefaultRemoteCatalog is the desktop-automation catalog assumed for an
// executor whose handshake does not report any tools.
func DefaultRemoteCatalog() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			ID: "mouse_move", Name: "Mouse Move",
			Description: "Move the mouse cursor to absolute screen coordinates.",
			Parameters: []types.ParameterSpec{
				{Name: "x", Type: types.ParamNumber, Required: true, Description: "X coordinate in pixels"},
				{Name: "y", Type: types.ParamNumber, Required: true, Description: "Y coordinate in pixels"},
				{Name: "duration", Type: types.ParamNumber, Description: "Movement duration in seconds"},
			},
		},
		{
			ID: "mouse_click", Name: "Mouse Click",
			Description: "Click a mouse button at the current cursor position.",
			Parameters: []types.ParameterSpec{
				{Name: "button", Type: types.ParamString, Enum: []string{"left", "right", "middle"}, Default: "left"},
			},
		},
		{
			ID: "mouse_scroll", Name: "Mouse Scroll",
			Description: "Scroll the mouse wheel.",
			Parameters: []types.ParameterSpec{
				{Name: "direction", Type: types.ParamString, Required: true, Enum: []string{"up", "down", "left", "right"}},
				{Name: "intensity", Type: types.ParamNumber, Default: float64(3), Description: "Scroll steps"},
			},
		},
		{
			ID: "keyboard_input", Name: "Keyboard Input",
			Description: "Type text using the keyboard.",
			Parameters: []types.ParameterSpec{
				{Name: "text", Type: types.ParamString, Required: true},
			},
		},
		{
			ID: "keyboard_command", Name: "Keyboard Command",
			Description: "Press a key or key combination such as enter, tab or ctrl+c.",
			Parameters: []types.ParameterSpec{
				{Name: "command", Type: types.ParamString, Required: true},
			},
		},
		{
			ID: "get_mouse_position", Name: "Get Mouse Position",
			Description: "Return the current cursor coordinates.",
		},
		{
			ID: "take_screenshot", Name: "Take Screenshot",
			Description: "Capture the screen. The image is returned to the caller, not to the model.",
			HideResult:  true,
		},
	}
}
