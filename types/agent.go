package types

import (
	"fmt"
	"strings"
	"time"
)

// MaxAgentIterations 单个 Agent 允许配置的最大迭代次数上限
const MaxAgentIterations = 100

// ToolReference enables or disables one catalog tool for an agent.
type ToolReference struct {
	ToolID  string `json:"toolId" yaml:"tool_id"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// AgentDefinition is a read-only snapshot of an agent as stored in the catalog.
type AgentDefinition struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Purpose       string          `json:"purpose" yaml:"purpose"`
	SystemPrompt  string          `json:"systemPrompt" yaml:"system_prompt"`
	Tools         []ToolReference `json:"tools" yaml:"tools"`
	ModelID       string          `json:"modelId" yaml:"model_id"`
	MaxIterations int             `json:"maxIterations" yaml:"max_iterations"`
	// Delegates 可委派的 Agent ID；为空表示目录中除根 Agent 外的全部 Agent
	Delegates []string `json:"delegates,omitempty" yaml:"delegates,omitempty"`

	SeparateReasoningModel bool   `json:"separateReasoningModel,omitempty" yaml:"separate_reasoning_model,omitempty"`
	ReasoningModelID       string `json:"reasoningModelId,omitempty" yaml:"reasoning_model_id,omitempty"`

	IsLocked  bool      `json:"isLocked,omitempty" yaml:"is_locked,omitempty"`
	IsDefault bool      `json:"isDefault,omitempty" yaml:"is_default,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updated_at"`
}

// Validate checks the fields an invocation relies on.
func (a *AgentDefinition) Validate() error {
	var errs []string
	if strings.TrimSpace(a.ID) == "" {
		errs = append(errs, "id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, "name is required")
	}
	if a.MaxIterations < 1 || a.MaxIterations > MaxAgentIterations {
		errs = append(errs, fmt.Sprintf("maxIterations must be between 1 and %d", MaxAgentIterations))
	}
	if a.SeparateReasoningModel && a.ReasoningModelID == "" {
		errs = append(errs, "reasoningModelId is required when separateReasoningModel is set")
	}
	seen := make(map[string]struct{}, len(a.Tools))
	for _, ref := range a.Tools {
		if ref.ToolID == "" {
			errs = append(errs, "tool reference without toolId")
			continue
		}
		if _, dup := seen[ref.ToolID]; dup {
			errs = append(errs, "duplicate tool reference "+ref.ToolID)
		}
		seen[ref.ToolID] = struct{}{}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid agent %q: %s", a.ID, strings.Join(errs, "; "))
	}
	return nil
}

// EnabledToolIDs returns the ids of enabled tool references in declaration order.
func (a *AgentDefinition) EnabledToolIDs() []string {
	ids := make([]string, 0, len(a.Tools))
	for _, ref := range a.Tools {
		if ref.Enabled {
			ids = append(ids, ref.ToolID)
		}
	}
	return ids
}

// HasTool reports whether toolID is enabled for the agent.
func (a *AgentDefinition) HasTool(toolID string) bool {
	for _, ref := range a.Tools {
		if ref.ToolID == toolID && ref.Enabled {
			return true
		}
	}
	return false
}

// AllowsDelegateTo reports whether targetID is in the agent's delegate list.
// An empty list allows every target.
func (a *AgentDefinition) AllowsDelegateTo(targetID string) bool {
	if len(a.Delegates) == 0 {
		return true
	}
	for _, id := range a.Delegates {
		if id == targetID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold a snapshot.
func (a *AgentDefinition) Clone() *AgentDefinition {
	c := *a
	c.Tools = append([]ToolReference(nil), a.Tools...)
	c.Delegates = append([]string(nil), a.Delegates...)
	return &c
}
