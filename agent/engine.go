package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config tunes the reasoning loop and delegation.
type Config struct {
	// DefaultMaxIterations applies to agents that declare no limit of their own.
	DefaultMaxIterations int
	// DelegatedMaxIterations 被委派 Agent 的迭代上限
	DelegatedMaxIterations int
	// MaxDelegationDepth 1 means a delegated agent may not delegate again.
	MaxDelegationDepth int
	RootAgentID        string
	// RepeatThreshold 相同动作重复次数上限，负数表示关闭
	RepeatThreshold     int
	StopOnError         bool
	ObservationMaxChars int
	CompletionPhrases   []string
	Temperature         float32
	MaxTokens           int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxIterations:   10,
		DelegatedMaxIterations: 5,
		MaxDelegationDepth:     1,
		RootAgentID:            RootAgentID,
		RepeatThreshold:        DefaultRepeatThreshold,
		ObservationMaxChars:    DefaultObservationMaxChars,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultMaxIterations <= 0 {
		c.DefaultMaxIterations = def.DefaultMaxIterations
	}
	if c.DelegatedMaxIterations <= 0 {
		c.DelegatedMaxIterations = def.DelegatedMaxIterations
	}
	if c.MaxDelegationDepth <= 0 {
		c.MaxDelegationDepth = def.MaxDelegationDepth
	}
	if c.RootAgentID == "" {
		c.RootAgentID = def.RootAgentID
	}
	if c.RepeatThreshold == 0 {
		c.RepeatThreshold = def.RepeatThreshold
	}
	if c.ObservationMaxChars <= 0 {
		c.ObservationMaxChars = def.ObservationMaxChars
	}
	return c
}

// SessionResolver maps an executor session id to its tool registry and executor.
type SessionResolver interface {
	Resolve(sessionID string) (*tools.Registry, tools.RemoteExecutor)
}

// SessionResolverFunc adapts a function to SessionResolver.
type SessionResolverFunc func(sessionID string) (*tools.Registry, tools.RemoteExecutor)

// Resolve implements SessionResolver.
func (f SessionResolverFunc) Resolve(sessionID string) (*tools.Registry, tools.RemoteExecutor) {
	return f(sessionID)
}

// RunRecorder persists finalized top-level execution logs.
type RunRecorder interface {
	SaveRun(ctx context.Context, log *types.ExecutionLog) error
}

// RunMetrics is implemented by the Prometheus collector.
type RunMetrics interface {
	RecordRun(agentID string, status types.Status, reason types.TerminationReason, steps int, duration time.Duration)
	RecordStep(agentID string)
}

// RunRequest starts one top-level invocation.
type RunRequest struct {
	AgentID   string `json:"agent_id"`
	Task      string `json:"task"`
	SessionID string `json:"session_id,omitempty"`
	// RunID 为空时自动生成
	RunID string `json:"run_id,omitempty"`
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEmitter sets the event emitter. Without one, events are discarded.
func WithEmitter(em *Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithRunRecorder stores every finalized top-level log.
func WithRunRecorder(r RunRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithRunMetrics records run and step metrics.
func WithRunMetrics(m RunMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// Engine starts reasoning loop invocations. It is safe for concurrent use;
// every invocation gets its own loop state.
type Engine struct {
	cfg        Config
	provider   llm.Provider
	catalog    Catalog
	dispatcher *tools.Dispatcher
	sessions   SessionResolver
	completion CompletionPolicy

	emitter  *Emitter
	recorder RunRecorder
	metrics  RunMetrics
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewEngine wires an engine. dispatcher carries the local handlers; the
// delegate_to_agent handler is registered on it here.
func NewEngine(cfg Config, provider llm.Provider, catalog Catalog, dispatcher *tools.Dispatcher, sessions SessionResolver, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:        cfg,
		provider:   provider,
		catalog:    catalog,
		dispatcher: dispatcher,
		sessions:   sessions,
		completion: NewCompletionPolicy(cfg.CompletionPhrases),
		tracer:     telemetry.Tracer(),
		logger:     logger.With(zap.String("component", "agent_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	// 委派会运行完整的嵌套循环，不设本地超时
	dispatcher.Handle(tools.DelegateToolID, e.delegate, -1)
	return e
}

// Emitter returns the engine's emitter, possibly nil.
func (e *Engine) Emitter() *Emitter {
	return e.emitter
}

// Run executes one top-level invocation synchronously.
//
// The returned log is always finalized when non-nil. The error is non-nil when
// the agent could not be loaded, or when the invocation aborted on a provider
// failure or an unavailable executor; the log then carries status "error".
func (e *Engine) Run(ctx context.Context, req RunRequest) (*types.ExecutionLog, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "task is required")
	}
	def, err := e.loadAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	ctx = types.WithRunID(ctx, req.RunID)
	if req.SessionID != "" {
		ctx = types.WithSessionID(ctx, req.SessionID)
	}
	ctx, span := e.tracer.Start(ctx, telemetry.SpanRun,
		trace.WithAttributes(telemetry.RunAttributes(req.RunID, def.ID, req.SessionID)...))
	defer span.End()

	session := e.sessionDispatcher(req.SessionID)
	inv := e.newInvocation(def, req.Task, 0, e.maxIterations(def), req.RunID, req.SessionID, session)

	e.logger.Info("run started",
		zap.String("run_id", req.RunID),
		zap.String("agent_id", def.ID),
		zap.String("session_id", req.SessionID))

	log, runErr := inv.run(ctx)

	span.SetAttributes(telemetry.RunOutcome(log)...)
	telemetry.Fail(span, runErr)

	if e.recorder != nil {
		// 请求已取消时仍需落库
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := e.recorder.SaveRun(saveCtx, log); err != nil {
			e.logger.Error("failed to save run", zap.String("run_id", req.RunID), zap.Error(err))
		}
		cancel()
	}

	e.logger.Info("run finished",
		zap.String("run_id", req.RunID),
		zap.String("agent_id", def.ID),
		zap.String("status", string(log.Status)),
		zap.String("reason", string(log.Reason)),
		zap.Int("steps", len(log.Steps)),
		zap.Int("tool_calls", log.ToolCallsCount),
		zap.Duration("elapsed", log.Elapsed))
	return log, runErr
}

func (e *Engine) loadAgent(ctx context.Context, id string) (*types.AgentDefinition, error) {
	if strings.TrimSpace(id) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "agent_id is required")
	}
	def, err := e.catalog.Get(ctx, id)
	if err != nil {
		if types.GetErrorCode(err) == "" {
			return nil, types.Errorf(types.ErrInternalError, "load agent %s: %v", id, err).WithCause(err)
		}
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error())
	}
	return def.Clone(), nil
}

func (e *Engine) maxIterations(def *types.AgentDefinition) int {
	if def.MaxIterations > 0 {
		return def.MaxIterations
	}
	return e.cfg.DefaultMaxIterations
}

// sessionDispatcher binds the shared handlers to one executor session.
func (e *Engine) sessionDispatcher(sessionID string) *tools.Dispatcher {
	if e.sessions == nil {
		return e.dispatcher
	}
	reg, exec := e.sessions.Resolve(sessionID)
	return e.dispatcher.ForSession(reg, exec)
}

func (e *Engine) newInvocation(def *types.AgentDefinition, task string, depth, maxIter int, runID, sessionID string, session *tools.Dispatcher) *invocation {
	return &invocation{
		engine:    e,
		agent:     def,
		task:      task,
		depth:     depth,
		maxIter:   maxIter,
		runID:     runID,
		sessionID: sessionID,
		session:   session,
		tools:     session.Scoped(def.EnabledToolIDs()),
		guard:     newRepeatGuard(e.cfg.RepeatThreshold),
		logger: e.logger.With(
			zap.String("run_id", runID),
			zap.String("agent_id", def.ID),
			zap.Int("depth", depth)),
	}
}

// delegatesFor lists the agents def may delegate to, for the system prompt.
func (e *Engine) delegatesFor(ctx context.Context, def *types.AgentDefinition, depth int, ancestors []string) []*types.AgentDefinition {
	if !def.HasTool(tools.DelegateToolID) || depth >= e.cfg.MaxDelegationDepth {
		return nil
	}
	all, err := e.catalog.List(ctx)
	if err != nil {
		e.logger.Warn("failed to list agents for prompt", zap.String("agent_id", def.ID), zap.Error(err))
		return nil
	}
	out := make([]*types.AgentDefinition, 0, len(all))
	for _, a := range all {
		if a.ID == e.cfg.RootAgentID || a.ID == def.ID || slices.Contains(ancestors, a.ID) || !def.AllowsDelegateTo(a.ID) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (e *Engine) emit(ev Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func providerError(err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.ErrProvider, fmt.Sprintf("model provider failed: %v", err)).WithCause(err)
}
