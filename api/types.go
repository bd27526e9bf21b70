package api

import (
	"time"

	"github.com/BaSui01/agentrelay/agent/remote"
	"github.com/BaSui01/agentrelay/types"
)

// =============================================================================
// 运行类型
// =============================================================================

// StartRunRequest starts one top-level invocation.
// @Description 运行请求结构
type StartRunRequest struct {
	// 目标 Agent ID
	AgentID string `json:"agent_id" example:"orchestrator-agent" binding:"required"`
	// 任务描述
	Task string `json:"task" example:"Open the calculator and compute 2+2" binding:"required"`
	// 执行器会话，为空时使用认证令牌中的会话或 default
	SessionID string `json:"session_id,omitempty" example:"default"`
}

// RunSummary is the list view of a stored run.
// @Description 运行摘要
type RunSummary struct {
	RunID          string                  `json:"run_id"`
	AgentID        string                  `json:"agent_id"`
	SessionID      string                  `json:"session_id,omitempty"`
	Task           string                  `json:"task"`
	Status         types.Status            `json:"status"`
	Reason         types.TerminationReason `json:"termination_reason"`
	Steps          int                     `json:"steps"`
	ToolCallsCount int                     `json:"tool_calls_count"`
	StartedAt      time.Time               `json:"started_at"`
	ElapsedMS      int64                   `json:"elapsed_ms"`
}

// NewRunSummary builds the list view of log.
func NewRunSummary(log *types.ExecutionLog) RunSummary {
	return RunSummary{
		RunID:          log.RunID,
		AgentID:        log.AgentID,
		SessionID:      log.SessionID,
		Task:           log.Task,
		Status:         log.Status,
		Reason:         log.Reason,
		Steps:          len(log.Steps),
		ToolCallsCount: log.ToolCallsCount,
		StartedAt:      log.StartedAt,
		ElapsedMS:      log.Elapsed.Milliseconds(),
	}
}

// =============================================================================
// Agent 类型
// =============================================================================

// AgentInfo is the API view of a catalog entry.
// @Description Agent 信息
type AgentInfo struct {
	ID                     string   `json:"id" example:"desktop-automation-agent"`
	Name                   string   `json:"name" example:"Desktop Automation"`
	Purpose                string   `json:"purpose,omitempty"`
	Tools                  []string `json:"tools"`
	Delegates              []string `json:"delegates,omitempty"`
	ModelID                string   `json:"model_id,omitempty"`
	MaxIterations          int      `json:"max_iterations" example:"15"`
	SeparateReasoningModel bool     `json:"separate_reasoning_model,omitempty"`
	IsLocked               bool     `json:"is_locked"`
	IsDefault              bool     `json:"is_default"`
	UpdatedAt              string   `json:"updated_at,omitempty"`
}

// NewAgentInfo builds the API view of def. Only enabled tools are listed.
func NewAgentInfo(def *types.AgentDefinition) AgentInfo {
	info := AgentInfo{
		ID:                     def.ID,
		Name:                   def.Name,
		Purpose:                def.Purpose,
		Tools:                  def.EnabledToolIDs(),
		Delegates:              def.Delegates,
		ModelID:                def.ModelID,
		MaxIterations:          def.MaxIterations,
		SeparateReasoningModel: def.SeparateReasoningModel,
		IsLocked:               def.IsLocked,
		IsDefault:              def.IsDefault,
	}
	if !def.UpdatedAt.IsZero() {
		info.UpdatedAt = def.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return info
}

// =============================================================================
// 执行器类型
// =============================================================================

// ExecutorListResponse lists executor sessions.
// @Description 执行器会话列表
type ExecutorListResponse struct {
	Connected int                  `json:"connected"`
	Sessions  []remote.SessionInfo `json:"sessions"`
}
