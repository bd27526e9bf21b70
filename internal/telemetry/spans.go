package telemetry

import (
	"github.com/BaSui01/agentrelay/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names. One run span wraps step spans; each step holds at most one
// completion span and one dispatch span, and a remote dispatch holds one
// command span per attempt.
const (
	SpanRun           = "agent.run"
	SpanStep          = "agent.step"
	SpanDelegate      = "agent.delegate"
	SpanCompletion    = "llm.completion"
	SpanToolDispatch  = "tool.dispatch"
	SpanRemoteCommand = "executor.command"
)

// Attribute keys.
const (
	KeyRunID     = attribute.Key("run.id")
	KeySessionID = attribute.Key("session.id")
	KeyRunStatus = attribute.Key("run.status")
	KeyRunReason = attribute.Key("run.reason")
	KeyRunSteps  = attribute.Key("run.steps")

	KeyAgentID            = attribute.Key("agent.id")
	KeyAgentDepth         = attribute.Key("agent.depth")
	KeyAgentStep          = attribute.Key("agent.step")
	KeyDelegationPriority = attribute.Key("delegation.priority")

	KeyLLMProvider    = attribute.Key("llm.provider")
	KeyLLMModel       = attribute.Key("llm.model")
	KeyLLMTotalTokens = attribute.Key("llm.tokens.total")

	KeyToolID        = attribute.Key("tool.id")
	KeyToolSource    = attribute.Key("tool.source")
	KeyToolSuccess   = attribute.Key("tool.success")
	KeyToolErrorCode = attribute.Key("tool.error_code")

	KeyCommandID = attribute.Key("executor.command_id")
)

// RunAttributes describe a top-level run.
func RunAttributes(runID, agentID, sessionID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyRunID.String(runID),
		KeyAgentID.String(agentID),
		KeySessionID.String(sessionID),
	}
}

// RunOutcome is set on the run span once the log is final.
func RunOutcome(log *types.ExecutionLog) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyRunStatus.String(string(log.Status)),
		KeyRunReason.String(string(log.Reason)),
		KeyRunSteps.Int(len(log.Steps)),
	}
}

// StepAttributes describe iteration step of an agent at depth.
func StepAttributes(agentID string, step, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyAgentID.String(agentID),
		KeyAgentStep.Int(step),
		KeyAgentDepth.Int(depth),
	}
}

// ToolResult describes a finished tool call.
func ToolResult(def types.ToolDefinition, res types.ToolCallResult) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		KeyToolID.String(res.ToolID),
		KeyToolSource.String(string(def.Source)),
		KeyToolSuccess.Bool(res.Success),
	}
	if res.ErrorCode != "" {
		attrs = append(attrs, KeyToolErrorCode.String(string(res.ErrorCode)))
	}
	return attrs
}

// Fail marks span as failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
