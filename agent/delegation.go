package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DelegationRequest asks the engine to hand a sub-task to another agent.
type DelegationRequest struct {
	Source        *types.AgentDefinition
	TargetAgentID string
	Task          string
	// Context 附加到子任务后的补充信息
	Context  string
	Priority string

	// Depth is the source invocation's depth; the delegated loop runs at Depth+1.
	Depth int
	// Ancestors 是 Source 之上的委派链，最外层在前，不含 Source
	Ancestors           []string
	ParentMaxIterations int
	RunID               string
	SessionID           string

	session *tools.Dispatcher
}

// DelegationSummary is the payload of a delegate_to_agent result.
type DelegationSummary struct {
	AgentID       string                  `json:"agent_id"`
	AgentName     string                  `json:"agent_name"`
	Status        types.Status            `json:"status"`
	Reason        types.TerminationReason `json:"termination_reason"`
	FinalResponse string                  `json:"final_response"`
	Steps         int                     `json:"steps"`
	ToolCalls     int                     `json:"tool_calls"`
	Error         string                  `json:"error,omitempty"`
}

// Delegate runs a fresh reasoning loop for the target agent and summarizes it.
// Rejections (unknown target, root agent, self or an ancestor, depth limit,
// not allowed) are returned as failed results without starting a nested loop.
func (e *Engine) Delegate(ctx context.Context, req DelegationRequest) types.ToolCallResult {
	log := e.logger.With(
		zap.String("run_id", req.RunID),
		zap.String("target_agent", req.TargetAgentID),
		zap.Int("depth", req.Depth))

	if err := e.checkDelegation(req); err != nil {
		log.Warn("delegation rejected", zap.Error(err))
		return types.FailedResult(tools.DelegateToolID, err)
	}

	target, err := e.catalog.Get(ctx, req.TargetAgentID)
	if err != nil {
		if code := types.GetErrorCode(err); code != "" && code != types.ErrAgentNotFound {
			log.Error("delegation target lookup failed", zap.Error(err))
			return types.FailedResult(tools.DelegateToolID, err)
		}
		log.Warn("delegation to unknown agent")
		return types.FailedResult(tools.DelegateToolID,
			types.Errorf(types.ErrAgentNotFound, "unknown agent id: %s", req.TargetAgentID))
	}
	if err := target.Validate(); err != nil {
		return types.FailedResult(tools.DelegateToolID, types.NewError(types.ErrValidation, err.Error()))
	}
	target = target.Clone()

	task := strings.TrimSpace(req.Task)
	if c := strings.TrimSpace(req.Context); c != "" {
		task += "\n\nContext: " + c
	}
	session := req.session
	if session == nil {
		session = e.sessionDispatcher(req.SessionID)
	}
	maxIter := e.delegatedIterations(target, req.ParentMaxIterations)

	source := e.sourceEvent(req)
	source.Type = EventDelegationStart
	source.Content = task
	e.emit(source)

	ctx, span := e.tracer.Start(ctx, telemetry.SpanDelegate, trace.WithAttributes(
		telemetry.KeyAgentID.String(target.ID),
		telemetry.KeyAgentDepth.Int(req.Depth+1),
		telemetry.KeyDelegationPriority.String(req.Priority),
	))
	child := e.newInvocation(target, task, req.Depth+1, maxIter, req.RunID, req.SessionID, session)
	child.ancestors = req.chain()
	childLog, childErr := child.run(ctx)
	span.End()

	end := e.sourceEvent(req)
	end.Type = EventDelegationEnd
	end.Status = childLog.Status
	end.Reason = childLog.Reason
	end.Content = childLog.FinalResponse
	end.Error = childLog.Error
	e.emit(end)

	summary := DelegationSummary{
		AgentID:       target.ID,
		AgentName:     target.Name,
		Status:        childLog.Status,
		Reason:        childLog.Reason,
		FinalResponse: childLog.FinalResponse,
		Steps:         len(childLog.Steps),
		ToolCalls:     childLog.ToolCallsCount,
		Error:         childLog.Error,
	}
	res := types.ToolCallResult{
		ToolID:  tools.DelegateToolID,
		Success: childLog.Status == types.StatusSuccess,
		Result:  summary,
	}
	if !res.Success {
		detail := childLog.Error
		if detail == "" {
			detail = childLog.FinalResponse
		}
		res.Error = fmt.Sprintf("agent %s finished with status %s: %s", target.ID, childLog.Status, detail)
		// 子 Agent 的失败对父 Agent 来说只是一次失败的工具调用
		res.ErrorCode = types.ErrToolExecution
	}
	log.Info("delegation finished",
		zap.String("status", string(childLog.Status)),
		zap.Int("steps", summary.Steps),
		zap.Bool("child_error", childErr != nil))
	return res
}

func (e *Engine) checkDelegation(req DelegationRequest) error {
	target := strings.TrimSpace(req.TargetAgentID)
	switch {
	case target == "":
		return types.NewError(types.ErrValidation, "target_agent is required")
	case strings.TrimSpace(req.Task) == "":
		return types.NewError(types.ErrValidation, "task is required")
	case target == e.cfg.RootAgentID:
		return types.Errorf(types.ErrDelegationRecursion, "cannot delegate to the root agent %s", target)
	case req.Source != nil && target == req.Source.ID:
		return types.Errorf(types.ErrDelegationRecursion, "agent %s cannot delegate to itself", target)
	case slices.Contains(req.Ancestors, target):
		return types.Errorf(types.ErrDelegationRecursion,
			"agent %s is already running in this delegation chain (%s)", target, strings.Join(req.chain(), " -> "))
	case req.Depth >= e.cfg.MaxDelegationDepth:
		return types.Errorf(types.ErrDelegationDepthExceeded,
			"delegation depth %d reached the limit of %d", req.Depth, e.cfg.MaxDelegationDepth)
	case req.Source != nil && !req.Source.AllowsDelegateTo(target):
		return types.Errorf(types.ErrValidation, "agent %s is not allowed to delegate to %s", req.Source.ID, target)
	}
	return nil
}

// chain returns the delegation chain including Source.
func (r DelegationRequest) chain() []string {
	out := slices.Clone(r.Ancestors)
	if r.Source != nil {
		out = append(out, r.Source.ID)
	}
	return out
}

// delegatedIterations caps the child's budget below the parent's, never under 1.
func (e *Engine) delegatedIterations(target *types.AgentDefinition, parentMax int) int {
	n := min(e.maxIterations(target), e.cfg.DelegatedMaxIterations)
	if parentMax > 1 {
		n = min(n, parentMax-1)
	}
	return max(n, 1)
}

func (e *Engine) sourceEvent(req DelegationRequest) Event {
	ev := Event{
		RunID:         req.RunID,
		SessionID:     req.SessionID,
		Depth:         req.Depth,
		TargetAgentID: req.TargetAgentID,
	}
	if req.Source != nil {
		ev.AgentID = req.Source.ID
		ev.AgentName = req.Source.Name
	}
	return ev
}

// delegate is the delegate_to_agent handler. It runs inside the calling
// invocation's Dispatch, so the caller is found on ctx.
func (e *Engine) delegate(ctx context.Context, args map[string]any) (any, error) {
	parent, ok := invocationFrom(ctx)
	if !ok {
		return nil, types.NewError(types.ErrToolExecution, "delegate_to_agent called outside an agent invocation")
	}
	return e.Delegate(ctx, DelegationRequest{
		Source:              parent.agent,
		TargetAgentID:       stringArg(args, "target_agent"),
		Task:                stringArg(args, "task"),
		Context:             stringArg(args, "context"),
		Priority:            stringArg(args, "priority"),
		Depth:               parent.depth,
		Ancestors:           parent.ancestors,
		ParentMaxIterations: parent.maxIter,
		RunID:               parent.runID,
		SessionID:           parent.sessionID,
		session:             parent.session,
	}), nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
