package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ParamType is the primitive type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// Valid reports whether t is one of the supported primitive types.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamNumber, ParamBoolean, ParamArray, ParamObject:
		return true
	}
	return false
}

// ToolSource tells the dispatcher where a tool runs.
type ToolSource string

const (
	// ToolSourceLocal 在引擎进程内执行（委派、网页抓取等内部工具）
	ToolSourceLocal ToolSource = "local"
	// ToolSourceRemote 通过关联器发送给远程执行器
	ToolSourceRemote ToolSource = "remote"
)

// ParameterSpec describes one tool parameter.
type ParameterSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// ToolDefinition is a catalog entry keyed by ID.
type ToolDefinition struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Parameters  []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// HideResult 为 true 时结果不会作为观察内容回填给模型（例如截图数据）
	HideResult bool       `json:"hideResult,omitempty" yaml:"hide_result,omitempty"`
	Source     ToolSource `json:"source,omitempty" yaml:"source,omitempty"`
}

// Param returns the spec for the named parameter.
func (d ToolDefinition) Param(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// DisplayName returns Name, falling back to ID.
func (d ToolDefinition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Schema builds the JSON Schema exposed to model providers.
func (d ToolDefinition) Schema() *JSONSchema {
	schema := NewObjectSchema()
	for _, p := range d.Parameters {
		prop := &JSONSchema{Type: SchemaType(p.Type), Description: p.Description, Default: p.Default}
		if p.Type == ParamArray {
			prop.Items = &JSONSchema{}
		}
		for _, v := range p.Enum {
			prop.Enum = append(prop.Enum, v)
		}
		schema.AddProperty(p.Name, prop)
		if p.Required {
			schema.AddRequired(p.Name)
		}
	}
	return schema
}

// Validate checks catalog-level constraints of a single definition.
func (d ToolDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	seen := make(map[string]struct{}, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter name is required", d.ID)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("tool %s: duplicate parameter %s", d.ID, p.Name)
		}
		seen[p.Name] = struct{}{}
		if !p.Type.Valid() {
			return fmt.Errorf("tool %s: parameter %s has unsupported type %q", d.ID, p.Name, p.Type)
		}
	}
	return nil
}

// 远程命令信封占用的字段，远程工具的参数不能使用
const (
	CommandFieldType = "type"
	CommandFieldID   = "commandId"
)

// ValidateRemote is Validate plus the rule that parameter names must not
// collide with the command envelope fields.
func (d ToolDefinition) ValidateRemote() error {
	if err := d.Validate(); err != nil {
		return err
	}
	for _, p := range d.Parameters {
		if p.Name == CommandFieldType || p.Name == CommandFieldID {
			return fmt.Errorf("tool %s: parameter name %q is reserved by the command envelope", d.ID, p.Name)
		}
	}
	return nil
}

// ToolCallRequest is a tool id plus normalized arguments.
type ToolCallRequest struct {
	// CallID 模型侧的调用 ID（可为空）
	CallID    string         `json:"call_id,omitempty"`
	ToolID    string         `json:"tool_id"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult is the outcome of exactly one ToolCallRequest.
type ToolCallResult struct {
	ToolID    string        `json:"tool_id"`
	Success   bool          `json:"success"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorCode ErrorCode     `json:"error_code,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// FailedResult builds a failed result from err, keeping its code when present.
func FailedResult(toolID string, err error) ToolCallResult {
	return ToolCallResult{
		ToolID:    toolID,
		Success:   false,
		Error:     err.Error(),
		ErrorCode: GetErrorCode(err),
	}
}

// ResultText renders Result as text. Strings are returned as is, other values as JSON.
func (r ToolCallResult) ResultText() string {
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
