package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/testutil/fixtures"
	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delegationAgents() []*types.AgentDefinition {
	return []*types.AgentDefinition{
		fixtures.Agent(RootAgentID, 10, tools.DelegateToolID),
		fixtures.Agent("desktop", 15, "mouse_move"),
		fixtures.Agent("web", 8),
	}
}

func TestDelegate_Rejections(t *testing.T) {
	root := fixtures.Agent(RootAgentID, 10, tools.DelegateToolID)
	desktop := fixtures.Agent("desktop", 15, "mouse_move", tools.DelegateToolID)
	picky := fixtures.Agent("picky", 5, tools.DelegateToolID)
	picky.Delegates = []string{"web"}

	tests := []struct {
		name     string
		req      DelegationRequest
		wantCode types.ErrorCode
		wantMsg  string
	}{
		{
			name:     "unknown agent",
			req:      DelegationRequest{Source: root, TargetAgentID: "ghost", Task: "haunt"},
			wantCode: types.ErrAgentNotFound,
			wantMsg:  "unknown agent id: ghost",
		},
		{
			name:     "root agent",
			req:      DelegationRequest{Source: desktop, TargetAgentID: RootAgentID, Task: "plan"},
			wantCode: types.ErrDelegationRecursion,
		},
		{
			name:     "self",
			req:      DelegationRequest{Source: desktop, TargetAgentID: "desktop", Task: "move"},
			wantCode: types.ErrDelegationRecursion,
		},
		{
			name:     "ancestor in chain",
			req:      DelegationRequest{Source: desktop, TargetAgentID: "web", Task: "search", Ancestors: []string{"web"}},
			wantCode: types.ErrDelegationRecursion,
			wantMsg:  "web -> desktop",
		},
		{
			name:     "depth limit",
			req:      DelegationRequest{Source: desktop, TargetAgentID: "web", Task: "search", Depth: 1},
			wantCode: types.ErrDelegationDepthExceeded,
		},
		{
			name:     "target not in delegate list",
			req:      DelegationRequest{Source: picky, TargetAgentID: "desktop", Task: "move"},
			wantCode: types.ErrValidation,
		},
		{
			name:     "empty task",
			req:      DelegationRequest{Source: root, TargetAgentID: "desktop", Task: "  "},
			wantCode: types.ErrValidation,
		},
		{
			name:     "empty target",
			req:      DelegationRequest{Source: root, Task: "move"},
			wantCode: types.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, delegationAgents()...)

			res := h.engine.Delegate(testutil.TestContext(t), tt.req)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			if tt.wantMsg != "" {
				assert.Contains(t, res.Error, tt.wantMsg)
			}
			assert.Zero(t, h.provider.GetCallCount(), "no nested loop is started")
			assert.NotContains(t, h.eventTypes(), EventDelegationStart)
		})
	}
}

func TestDelegate_RunsTargetAgent(t *testing.T) {
	h := newHarness(t, Config{}, delegationAgents()...)
	h.provider.WithResponses(
		fixtures.ToolCallResponse("The desktop agent should do this.", tools.DelegateToolID,
			map[string]any{"target_agent": "desktop", "task": "move the mouse to 10,20", "context": "primary screen"}),
		fixtures.ToolCallResponse("Moving.", "mouse_move", map[string]any{"x": 10, "y": 20}),
		fixtures.TextResponse("Pointer moved to 10,20."),
		fixtures.TextResponse("The desktop agent moved the pointer."),
	)

	log, err := h.run(t, RootAgentID, "move the mouse to 10,20")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, log.Status)
	require.Len(t, log.Steps, 2)
	assert.Equal(t, "The desktop agent moved the pointer.", log.FinalResponse)

	obs := log.Steps[0].Observation
	require.NotNil(t, obs)
	require.True(t, obs.Success)
	summary, ok := obs.Result.(DelegationSummary)
	require.True(t, ok)
	assert.Equal(t, "desktop", summary.AgentID)
	assert.Equal(t, types.StatusSuccess, summary.Status)
	assert.Equal(t, 2, summary.Steps)
	assert.Equal(t, 1, summary.ToolCalls)
	assert.Equal(t, "Pointer moved to 10,20.", summary.FinalResponse)

	calls := h.provider.GetCalls()
	require.Len(t, calls, 4)
	childTask := calls[1].Request.Messages[1].Content
	assert.Equal(t, "move the mouse to 10,20\n\nContext: primary screen", childTask)
	assert.Equal(t, "desktop", calls[1].Request.Metadata["agent_id"])
	assert.Equal(t, 1, h.exec.GetCallCount())

	var start, end *Event
	for _, ev := range testutil.Drain(h.sub.Events()) {
		ev := ev
		switch ev.Type {
		case EventDelegationStart:
			start = &ev
		case EventDelegationEnd:
			end = &ev
		case EventAction:
			if ev.ToolID == "mouse_move" {
				assert.Equal(t, "desktop", ev.AgentID)
				assert.Equal(t, 1, ev.Depth)
			}
		}
	}
	require.NotNil(t, start)
	require.NotNil(t, end)
	assert.Equal(t, RootAgentID, start.AgentID)
	assert.Equal(t, "desktop", start.TargetAgentID)
	assert.Equal(t, 0, start.Depth)
	assert.Equal(t, types.StatusSuccess, end.Status)
	assert.Less(t, start.Seq, end.Seq)
}

func agentScript(byAgent map[string]func(n int) *llm.ChatResponse) func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	counts := map[string]*atomic.Int32{}
	for id := range byAgent {
		counts[id] = &atomic.Int32{}
	}
	return func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		id := req.Metadata["agent_id"]
		fn, ok := byAgent[id]
		if !ok {
			return nil, fmt.Errorf("no script for agent %s", id)
		}
		return fn(int(counts[id].Add(1))), nil
	}
}

func TestDelegate_ChildBudgetAndFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, Config{}, delegationAgents()...)
	h.provider.WithCompletionFunc(agentScript(map[string]func(int) *llm.ChatResponse{
		RootAgentID: func(n int) *llm.ChatResponse {
			if n == 1 {
				return fixtures.ToolCallResponse("", tools.DelegateToolID,
					map[string]any{"target_agent": "desktop", "task": "wiggle"})
			}
			return fixtures.TextResponse("The desktop agent could not finish.")
		},
		"desktop": func(n int) *llm.ChatResponse {
			return fixtures.ToolCallResponse("still wiggling", "mouse_move", map[string]any{"x": n, "y": n})
		},
	}))

	log, err := h.run(t, RootAgentID, "wiggle the mouse")
	require.NoError(t, err)
	require.Len(t, log.Steps, 2)
	assert.Equal(t, types.StatusSuccess, log.Status)

	obs := log.Steps[0].Observation
	assert.False(t, obs.Success)
	assert.Equal(t, types.ErrToolExecution, obs.ErrorCode)
	summary := obs.Result.(DelegationSummary)
	assert.Equal(t, types.StatusIncomplete, summary.Status)
	assert.Equal(t, types.ReasonMaxIterations, summary.Reason)
	// min(desktop 15, delegated 5, parent 10-1)
	assert.Equal(t, 5, summary.Steps)
	assert.Equal(t, 5, h.exec.GetCallCount())
}

func TestDelegate_RecursionAbortsParent(t *testing.T) {
	h := newHarness(t, Config{}, delegationAgents()...)
	h.provider.WithFallback(fixtures.ToolCallResponse("I'll ask myself.", tools.DelegateToolID,
		map[string]any{"target_agent": RootAgentID, "task": "plan"}))

	log, err := h.run(t, RootAgentID, "plan")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrDelegationRecursion))
	assert.Equal(t, types.StatusError, log.Status)
	assert.Len(t, log.Steps, 1)
	assert.Equal(t, 1, h.provider.GetCallCount())
}

func TestDelegate_DepthExceededInsideChild(t *testing.T) {
	agents := delegationAgents()
	agents[1] = fixtures.Agent("desktop", 15, "mouse_move", tools.DelegateToolID)
	h := newHarness(t, Config{}, agents...)
	h.provider.WithCompletionFunc(agentScript(map[string]func(int) *llm.ChatResponse{
		RootAgentID: func(n int) *llm.ChatResponse {
			if n == 1 {
				return fixtures.ToolCallResponse("", tools.DelegateToolID,
					map[string]any{"target_agent": "desktop", "task": "look it up"})
			}
			return fixtures.TextResponse("Could not look it up.")
		},
		"desktop": func(int) *llm.ChatResponse {
			return fixtures.ToolCallResponse("", tools.DelegateToolID,
				map[string]any{"target_agent": "web", "task": "search"})
		},
	}))

	log, err := h.run(t, RootAgentID, "look it up")
	require.NoError(t, err)
	require.Len(t, log.Steps, 2)
	obs := log.Steps[0].Observation
	assert.False(t, obs.Success)
	summary := obs.Result.(DelegationSummary)
	assert.Equal(t, types.StatusError, summary.Status)
	assert.Contains(t, summary.Error, string(types.ErrDelegationDepthExceeded))
}

func TestDelegate_CycleThroughAncestorRejected(t *testing.T) {
	desktop := fixtures.Agent("desktop", 15, "mouse_move", tools.DelegateToolID)
	web := fixtures.Agent("web", 8, tools.DelegateToolID)
	h := newHarness(t, Config{MaxDelegationDepth: 2}, fixtures.Agent(RootAgentID, 10, tools.DelegateToolID), desktop, web)
	h.provider.WithCompletionFunc(agentScript(map[string]func(int) *llm.ChatResponse{
		"desktop": func(n int) *llm.ChatResponse {
			if n == 1 {
				return fixtures.ToolCallResponse("", tools.DelegateToolID,
					map[string]any{"target_agent": "web", "task": "find the button"})
			}
			return fixtures.TextResponse("The web agent could not help.")
		},
		// desktop -> web -> desktop
		"web": func(int) *llm.ChatResponse {
			return fixtures.ToolCallResponse("", tools.DelegateToolID,
				map[string]any{"target_agent": "desktop", "task": "click it"})
		},
	}))

	log, err := h.run(t, "desktop", "click the button")
	require.NoError(t, err)
	require.Len(t, log.Steps, 2)
	assert.Equal(t, types.StatusSuccess, log.Status)

	obs := log.Steps[0].Observation
	assert.False(t, obs.Success)
	summary := obs.Result.(DelegationSummary)
	assert.Equal(t, "web", summary.AgentID)
	assert.Equal(t, types.StatusError, summary.Status)
	assert.Equal(t, 1, summary.Steps)
	assert.Contains(t, summary.Error, string(types.ErrDelegationRecursion))
	assert.Equal(t, 3, h.provider.GetCallCount(), "desktop is never entered twice")

	// web 的提示词不列出上级 Agent
	calls := h.provider.GetCalls()
	assert.Equal(t, "web", calls[1].Request.Metadata["agent_id"])
	assert.NotContains(t, calls[1].Request.Messages[0].Content, "- desktop:")
}

func TestDelegate_PromptOmitsDelegatesAtDepthLimit(t *testing.T) {
	agents := delegationAgents()
	agents[1] = fixtures.Agent("desktop", 15, "mouse_move", tools.DelegateToolID)
	h := newHarness(t, Config{}, agents...)
	h.provider.WithCompletionFunc(agentScript(map[string]func(int) *llm.ChatResponse{
		RootAgentID: func(n int) *llm.ChatResponse {
			if n == 1 {
				return fixtures.ToolCallResponse("", tools.DelegateToolID,
					map[string]any{"target_agent": "desktop", "task": "idle"})
			}
			return fixtures.TextResponse("done")
		},
		"desktop": func(int) *llm.ChatResponse { return fixtures.TextResponse("nothing to do") },
	}))

	_, err := h.run(t, RootAgentID, "idle")
	require.NoError(t, err)
	calls := h.provider.GetCalls()
	assert.Contains(t, calls[0].Request.Messages[0].Content, "- desktop: test agent desktop")
	assert.Contains(t, calls[1].Request.Messages[0].Content, "No agents available")
}

func TestDelegatedIterations(t *testing.T) {
	e := NewEngine(Config{DelegatedMaxIterations: 5}, nil, testCatalog{}, tools.NewDispatcher(tools.DispatcherConfig{}, nil, nil, nil), nil, nil)
	tests := []struct {
		target, parent, want int
	}{
		{target: 15, parent: 10, want: 5},
		{target: 3, parent: 10, want: 3},
		{target: 15, parent: 4, want: 3},
		{target: 15, parent: 2, want: 1},
		{target: 15, parent: 1, want: 1},
		{target: 0, parent: 0, want: 5},
	}
	for _, tt := range tests {
		def := fixtures.Agent("t", tt.target)
		assert.Equal(t, tt.want, e.delegatedIterations(def, tt.parent), "target=%d parent=%d", tt.target, tt.parent)
	}
}
