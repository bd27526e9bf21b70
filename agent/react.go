package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	reasoningInstruction = "Think about the next step. Explain what should be done next and which tool fits, " +
		"or state that the task is complete. Do not call any tool yet."
	actionInstruction = "Based on your reasoning above, call the single tool for the next step. " +
		"If the task is complete, reply with your final answer instead."
)

type invocationKey struct{}

// invocation is the state of one reasoning loop. Delegation creates a new one
// for the target agent rather than re-entering the parent's.
type invocation struct {
	engine    *Engine
	agent     *types.AgentDefinition
	task      string
	depth     int
	// ancestors 委派链上的上级 Agent，最外层在前
	ancestors []string
	maxIter   int
	runID     string
	sessionID string
	// session 未按 Agent 限定工具，供委派使用
	session *tools.Dispatcher
	tools   *tools.Dispatcher
	guard   *repeatGuard
	logger  *zap.Logger

	native       bool
	systemPrompt string
	schemas      []llm.ToolSchema
	transcript   []llm.Message
	log          *types.ExecutionLog
}

func invocationFrom(ctx context.Context) (*invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*invocation)
	return inv, ok
}

// run drives the loop until it terminates. The returned log is finalized.
func (inv *invocation) run(ctx context.Context) (*types.ExecutionLog, error) {
	e := inv.engine
	inv.log = types.NewExecutionLog(inv.runID, inv.agent, inv.task)
	inv.log.SessionID = inv.sessionID
	inv.log.Depth = inv.depth

	ctx = types.WithAgentID(ctx, inv.agent.ID)
	ctx = types.WithDelegationDepth(ctx, inv.depth)
	ctx = context.WithValue(ctx, invocationKey{}, inv)

	inv.native = e.provider.SupportsNativeFunctionCalling()
	defs := inv.tools.Definitions()
	inv.systemPrompt = RenderSystemPrompt(inv.agent, defs, e.delegatesFor(ctx, inv.agent, inv.depth, inv.ancestors), inv.native)
	if inv.native {
		inv.schemas = tools.Schemas(defs)
	}

	inv.logger.Debug("invocation started",
		zap.Int("max_iterations", inv.maxIter),
		zap.Int("tools", len(defs)))

	for n := 1; n <= inv.maxIter; n++ {
		if done, err := inv.step(ctx, n); done {
			return inv.log, err
		}
	}

	final := fmt.Sprintf("Reached the maximum of %d iterations without completing the task. Last thought: %s",
		inv.maxIter, inv.log.LastThought())
	inv.terminate(types.StatusIncomplete, types.ReasonMaxIterations, final, nil)
	return inv.log, nil
}

// step runs iteration n and reports whether the loop terminated.
func (inv *invocation) step(ctx context.Context, n int) (bool, error) {
	e := inv.engine
	if ctx.Err() != nil {
		inv.stopped(ctx)
		return true, nil
	}

	ctx, span := e.tracer.Start(ctx, telemetry.SpanStep,
		trace.WithAttributes(telemetry.StepAttributes(inv.agent.ID, n, inv.depth)...))
	defer span.End()

	inv.emit(Event{Type: EventStepStart, Step: n})
	if e.metrics != nil {
		e.metrics.RecordStep(inv.agent.ID)
	}

	thought, call, err := inv.decide(ctx)
	if err != nil {
		if ctx.Err() != nil {
			inv.stopped(ctx)
			return true, nil
		}
		perr := providerError(err)
		telemetry.Fail(span, perr)
		inv.logger.Error("model call failed", zap.Int("step", n), zap.Error(err))
		inv.terminate(types.StatusError, types.ReasonError, "", perr)
		return true, perr
	}

	step := types.ExecutionStep{
		StepNumber: n,
		AgentID:    inv.agent.ID,
		AgentName:  inv.agent.Name,
		Thought:    thought,
		Timestamp:  time.Now(),
	}
	if thought != "" {
		inv.emit(Event{Type: EventThought, Step: n, Content: thought})
	}

	if call == nil {
		inv.log.Append(step)
		inv.emit(Event{Type: EventStepComplete, Step: n})
		inv.terminate(types.StatusSuccess, types.ReasonModelConcluded, thought, nil)
		return true, nil
	}

	if count, tripped := inv.guard.observe(inv.normalized(*call)); tripped {
		inv.logger.Warn("repeated action, stopping",
			zap.String("tool_id", call.ToolID),
			zap.Int("count", count))
		inv.log.Append(step)
		inv.emit(Event{Type: EventStepComplete, Step: n})
		final := fmt.Sprintf("Stopped: the action %s was proposed %d times with the same arguments. Last thought: %s",
			call.ToolID, count, thought)
		inv.terminate(types.StatusSuccess, types.ReasonModelConcluded, final, nil)
		return true, nil
	}

	inv.emit(Event{Type: EventAction, Step: n, ToolID: call.ToolID, Arguments: call.Arguments})
	out, derr := inv.tools.Dispatch(ctx, *call)
	obs := out.Result
	if obs.ToolID == "" {
		obs = types.FailedResult(call.ToolID, types.NewError(types.ErrStopped, "tool call was not executed").WithCause(derr))
	}
	step.Action = &types.ExecutedAction{ToolID: call.ToolID, Arguments: out.Request.Arguments}
	step.Observation = &obs
	inv.log.Append(step)
	inv.emit(Event{Type: EventObservation, Step: n, ToolID: call.ToolID, Observation: &obs})
	inv.emit(Event{Type: EventStepComplete, Step: n})

	if derr != nil {
		if !tools.IsFatal(derr) {
			inv.stopped(ctx)
			return true, nil
		}
		telemetry.Fail(span, derr)
		inv.terminate(types.StatusError, types.ReasonError, "", derr)
		return true, derr
	}

	if !obs.Success {
		inv.logger.Debug("tool call failed",
			zap.Int("step", n),
			zap.String("tool_id", call.ToolID),
			zap.String("error_code", string(obs.ErrorCode)),
			zap.String("error", obs.Error))
		if fatal := inv.abortOn(obs); fatal != nil {
			inv.terminate(types.StatusError, types.ReasonError, "", fatal)
			return true, fatal
		}
	}

	inv.transcript = append(inv.transcript,
		actionTurn(thought, out.Request),
		feedbackTurn(FormatObservation(out.Definition, obs, e.cfg.ObservationMaxChars)))

	if obs.Success && e.completion.IsCompletion(thought) {
		inv.terminate(types.StatusSuccess, types.ReasonModelConcluded, inv.completionResponse(thought, out.Definition, obs), nil)
		return true, nil
	}
	return false, nil
}

// abortOn returns the error that ends the invocation for a failed observation,
// or nil when the model should see the failure and carry on.
func (inv *invocation) abortOn(obs types.ToolCallResult) error {
	switch obs.ErrorCode {
	case types.ErrDelegationRecursion, types.ErrDelegationDepthExceeded:
		return types.NewError(obs.ErrorCode, obs.Error)
	}
	if inv.engine.cfg.StopOnError {
		code := obs.ErrorCode
		if code == "" {
			code = types.ErrToolExecution
		}
		return types.Errorf(code, "tool %s failed: %s", obs.ToolID, obs.Error)
	}
	return nil
}

// decide asks the model for the next thought and at most one tool call.
func (inv *invocation) decide(ctx context.Context) (string, *types.ToolCallRequest, error) {
	msgs := inv.messages()
	if inv.agent.SeparateReasoningModel {
		return inv.decideTwoPhase(ctx, msgs)
	}
	msg, err := inv.complete(ctx, inv.agent.ModelID, msgs, inv.schemas)
	if err != nil {
		return "", nil, err
	}
	thought, call := inv.parse(msg)
	return thought, call, nil
}

// decideTwoPhase gets the thought from the reasoning model, then the action
// from the agent's own model.
func (inv *invocation) decideTwoPhase(ctx context.Context, msgs []llm.Message) (string, *types.ToolCallRequest, error) {
	rmsg, err := inv.complete(ctx, inv.agent.ReasoningModelID,
		withTurns(msgs, llm.Message{Role: llm.RoleUser, Content: reasoningInstruction}), nil)
	if err != nil {
		return "", nil, fmt.Errorf("reasoning phase: %w", err)
	}
	thought := strings.TrimSpace(rmsg.Content)

	amsg, err := inv.complete(ctx, inv.agent.ModelID, withTurns(msgs,
		llm.Message{Role: llm.RoleAssistant, Content: "Thought: " + thought},
		llm.Message{Role: llm.RoleUser, Content: actionInstruction},
	), inv.schemas)
	if err != nil {
		return "", nil, fmt.Errorf("action phase: %w", err)
	}
	answer, call := inv.parse(amsg)
	if call == nil && answer != "" {
		thought = answer
	}
	return thought, call, nil
}

func (inv *invocation) complete(ctx context.Context, model string, msgs []llm.Message, schemas []llm.ToolSchema) (llm.Message, error) {
	e := inv.engine
	ctx, span := e.tracer.Start(ctx, telemetry.SpanCompletion, trace.WithAttributes(
		telemetry.KeyLLMProvider.String(e.provider.Name()),
		telemetry.KeyLLMModel.String(model),
	))
	defer span.End()

	req := &llm.ChatRequest{
		TraceID:     inv.runID,
		Model:       model,
		Messages:    msgs,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Tools:       schemas,
		Metadata: map[string]string{
			"run_id":   inv.runID,
			"agent_id": inv.agent.ID,
		},
	}
	if len(schemas) > 0 {
		req.ToolChoice = "auto"
	}
	resp, err := e.provider.Completion(ctx, req)
	if err != nil {
		telemetry.Fail(span, err)
		return llm.Message{}, err
	}
	span.SetAttributes(telemetry.KeyLLMTotalTokens.Int(resp.Usage.TotalTokens))
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		telemetry.Fail(span, err)
		return llm.Message{}, err
	}
	return choice.Message, nil
}

// parse turns a model message into a thought and an optional call. Native tool
// calls and the text fallback end up as the same ToolCallRequest.
func (inv *invocation) parse(msg llm.Message) (string, *types.ToolCallRequest) {
	content := strings.TrimSpace(msg.Content)
	if len(msg.ToolCalls) > 0 {
		if len(msg.ToolCalls) > 1 {
			inv.logger.Debug("model proposed several tool calls, executing the first",
				zap.Int("proposed", len(msg.ToolCalls)))
		}
		tc := msg.ToolCalls[0]
		args, err := tools.ParseArguments(tc.Arguments)
		if err != nil {
			inv.logger.Warn("unparseable tool arguments", zap.String("tool_id", tc.Name), zap.Error(err))
			args = map[string]any{}
		}
		return content, &types.ToolCallRequest{CallID: tc.ID, ToolID: tc.Name, Arguments: args}
	}
	if !inv.native {
		thought, call, _ := tools.ParseTextToolCall(content)
		return thought, call
	}
	return content, nil
}

// normalized applies schema normalization so "12" and 12 count as the same action.
func (inv *invocation) normalized(call types.ToolCallRequest) types.ToolCallRequest {
	if reg := inv.tools.Registry(); reg != nil {
		if def, ok := reg.Lookup(call.ToolID); ok {
			call.Arguments = tools.NormalizeArguments(def, call.Arguments)
		}
	}
	return call
}

func (inv *invocation) messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(inv.transcript)+2)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: inv.systemPrompt},
		llm.Message{Role: llm.RoleUser, Content: inv.task},
	)
	return append(msgs, inv.transcript...)
}

func (inv *invocation) completionResponse(thought string, def types.ToolDefinition, res types.ToolCallResult) string {
	details := res.ResultText()
	if def.HideResult || details == "" {
		return thought
	}
	return thought + "\n\nResult: " + truncate(details, inv.engine.cfg.ObservationMaxChars)
}

func (inv *invocation) stopped(ctx context.Context) {
	final := "Stopped before the task was completed."
	if last := inv.log.LastThought(); last != "" {
		final += " Last thought: " + last
	}
	inv.terminate(types.StatusInterrupted, types.ReasonStoppedExternally, final,
		types.NewError(types.ErrStopped, "invocation stopped").WithCause(context.Cause(ctx)))
}

func (inv *invocation) terminate(status types.Status, reason types.TerminationReason, final string, err error) {
	if !inv.log.Finalize(status, reason, final, err) {
		return
	}
	e := inv.engine

	ev := Event{Status: status, Reason: reason, Content: final}
	switch status {
	case types.StatusSuccess, types.StatusIncomplete:
		ev.Type = EventFinalResponse
	default:
		ev.Type = EventError
		ev.Error = inv.log.Error
	}
	inv.emit(ev)

	if e.metrics != nil {
		e.metrics.RecordRun(inv.agent.ID, status, reason, len(inv.log.Steps), inv.log.Elapsed)
	}
	inv.logger.Debug("invocation finished",
		zap.String("status", string(status)),
		zap.String("reason", string(reason)),
		zap.Int("steps", len(inv.log.Steps)),
		zap.Int("tool_calls", inv.log.ToolCallsCount))
}

func (inv *invocation) emit(ev Event) {
	ev.RunID = inv.runID
	ev.SessionID = inv.sessionID
	ev.AgentID = inv.agent.ID
	ev.AgentName = inv.agent.Name
	ev.Depth = inv.depth
	inv.engine.emit(ev)
}

func withTurns(msgs []llm.Message, turns ...llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+len(turns))
	out = append(out, msgs...)
	return append(out, turns...)
}
