package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID         contextKey = "trace_id"
	keyRunID           contextKey = "run_id"
	keySessionID       contextKey = "session_id"
	keyAgentID         contextKey = "agent_id"
	keyDelegationDepth contextKey = "delegation_depth"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithSessionID adds the executor session ID to context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts the executor session ID from context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}

// WithAgentID adds the currently running agent ID to context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, keyAgentID, agentID)
}

// AgentID extracts the currently running agent ID from context.
func AgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentID).(string)
	return v, ok && v != ""
}

// WithDelegationDepth records how deep in a delegation chain the caller is.
func WithDelegationDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, keyDelegationDepth, depth)
}

// DelegationDepth returns the delegation depth, 0 for top-level invocations.
func DelegationDepth(ctx context.Context) int {
	v, _ := ctx.Value(keyDelegationDepth).(int)
	return v
}
