package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/types"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LocalHandler executes an engine-internal tool. Returning a types.ToolCallResult
// as the value lets a handler report a failed call that still carries a payload.
type LocalHandler func(ctx context.Context, args map[string]any) (any, error)

// RemoteExecutor sends a tool call to the remote executor and waits for its reply.
// Transport failures are returned as errors carrying EXECUTOR_UNAVAILABLE,
// COMMAND_TIMEOUT or EXECUTOR_DISCONNECTED.
type RemoteExecutor interface {
	Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error)
}

// ToolMetrics receives one record per dispatched call.
type ToolMetrics interface {
	RecordToolCall(toolID, source string, success bool, duration time.Duration)
}

// RateLimit 单个工具的调用速率限制
type RateLimit struct {
	PerSecond float64 `json:"per_second" yaml:"per_second"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// DispatcherConfig tunes dispatching.
type DispatcherConfig struct {
	// ExecutorRetries 远程执行器不可用时的重试次数，0 表示直接失败
	ExecutorRetries int
	RetryBackoff    time.Duration
	// LocalTimeout applies to local handlers registered without their own timeout.
	LocalTimeout time.Duration
	RateLimits   map[string]RateLimit
}

type localEntry struct {
	fn      LocalHandler
	timeout time.Duration
}

// Outcome is the result of one dispatch.
type Outcome struct {
	// Request carries the normalized arguments actually dispatched.
	Request    types.ToolCallRequest
	Result     types.ToolCallResult
	Definition types.ToolDefinition
}

// Dispatcher routes a validated tool call to a local handler or the remote executor.
// Copies made by ForSession and Scoped share handlers and rate limiters.
type Dispatcher struct {
	cfg      DispatcherConfig
	handlers *handlerSet
	limiters *limiterSet
	metrics  ToolMetrics
	logger   *zap.Logger

	registry *Registry
	executor RemoteExecutor
	allowed  map[string]struct{}
}

type handlerReply struct {
	val any
	err error
}

type handlerSet struct {
	mu sync.RWMutex
	m  map[string]localEntry
}

type limiterSet struct {
	mu     sync.Mutex
	limits map[string]RateLimit
	m      map[string]*rate.Limiter
}

// NewDispatcher 创建分发器。registry 与 executor 可以稍后通过 ForSession 绑定。
func NewDispatcher(cfg DispatcherConfig, registry *Registry, executor RemoteExecutor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		handlers: &handlerSet{m: make(map[string]localEntry)},
		limiters: &limiterSet{limits: cfg.RateLimits, m: make(map[string]*rate.Limiter)},
		logger:   logger.With(zap.String("component", "tool_dispatcher")),
		registry: registry,
		executor: executor,
	}
}

// WithMetrics attaches a metrics sink and returns d.
func (d *Dispatcher) WithMetrics(m ToolMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Handle registers the handler for a local tool. timeout 0 uses LocalTimeout;
// a negative timeout disables the deadline.
func (d *Dispatcher) Handle(toolID string, fn LocalHandler, timeout time.Duration) {
	d.handlers.mu.Lock()
	defer d.handlers.mu.Unlock()
	d.handlers.m[toolID] = localEntry{fn: fn, timeout: timeout}
}

// ForSession returns a copy bound to a session's registry and executor.
func (d *Dispatcher) ForSession(registry *Registry, executor RemoteExecutor) *Dispatcher {
	c := *d
	c.registry = registry
	c.executor = executor
	return &c
}

// Scoped returns a copy that only dispatches the given tool ids.
func (d *Dispatcher) Scoped(toolIDs []string) *Dispatcher {
	c := *d
	c.allowed = make(map[string]struct{}, len(toolIDs))
	for _, id := range toolIDs {
		c.allowed[id] = struct{}{}
	}
	return &c
}

// Registry returns the bound registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Definitions returns the definitions the dispatcher will accept, in registry order.
func (d *Dispatcher) Definitions() []types.ToolDefinition {
	if d.registry == nil {
		return nil
	}
	all := d.registry.List()
	if d.allowed == nil {
		return all
	}
	out := make([]types.ToolDefinition, 0, len(d.allowed))
	for _, def := range all {
		if _, ok := d.allowed[def.ID]; ok {
			out = append(out, def)
		}
	}
	return out
}

// Dispatch validates and executes one call.
//
// Tool-level failures (unknown tool, invalid arguments, rate limits, handler
// errors, command timeouts, executor disconnects) are reported through Outcome.Result and a nil
// error. A non-nil error means the invocation cannot continue: the context was
// cancelled, or the remote executor stayed unavailable after all retries.
func (d *Dispatcher) Dispatch(ctx context.Context, call types.ToolCallRequest) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanToolDispatch,
		trace.WithAttributes(telemetry.KeyToolID.String(call.ToolID)))
	defer span.End()

	out, err := d.dispatch(ctx, call)
	span.SetAttributes(telemetry.ToolResult(out.Definition, out.Result)...)
	telemetry.Fail(span, err)
	return out, err
}

func (d *Dispatcher) dispatch(ctx context.Context, call types.ToolCallRequest) (Outcome, error) {
	start := time.Now()
	out := Outcome{Request: call}

	fail := func(err error) (Outcome, error) {
		out.Result = types.FailedResult(call.ToolID, err)
		out.Result.Duration = time.Since(start)
		d.record(out)
		return out, nil
	}

	if d.allowed != nil {
		if _, ok := d.allowed[call.ToolID]; !ok {
			return fail(types.Errorf(types.ErrToolNotFound, "tool not found: %s", call.ToolID))
		}
	}
	if d.registry == nil {
		return fail(types.Errorf(types.ErrToolNotFound, "tool not found: %s", call.ToolID))
	}
	def, ok := d.registry.Lookup(call.ToolID)
	if !ok {
		return fail(types.Errorf(types.ErrToolNotFound, "tool not found: %s", call.ToolID))
	}
	out.Definition = def

	args := NormalizeArguments(def, call.Arguments)
	if def.Source == types.ToolSourceRemote {
		// 目录中不允许声明这些参数，多出来的同名参数直接丢弃
		for _, k := range []string{types.CommandFieldType, types.CommandFieldID} {
			if _, ok := args[k]; ok {
				delete(args, k)
				d.logger.Debug("dropped argument reserved by the command envelope",
					zap.String("tool_id", def.ID), zap.String("argument", k))
			}
		}
	}
	out.Request.Arguments = args
	if vr := ValidateArguments(def, args); !vr.Valid {
		d.logger.Debug("tool arguments rejected",
			zap.String("tool_id", def.ID),
			zap.Strings("errors", vr.Errors))
		return fail(vr.Err())
	}

	if err := d.wait(ctx, def.ID); err != nil {
		if ctx.Err() != nil {
			out.Result = types.FailedResult(def.ID, stoppedError(ctx))
			out.Result.Duration = time.Since(start)
			return out, ctx.Err()
		}
		// 等不到令牌只是本次调用失败，模型可以稍后重试
		d.logger.Warn("tool call rate limited", zap.String("tool_id", def.ID), zap.Error(err))
		return fail(err)
	}

	var (
		result types.ToolCallResult
		err    error
	)
	if def.Source == types.ToolSourceLocal {
		result, err = d.runLocal(ctx, def, args)
	} else {
		result, err = d.runRemote(ctx, out.Request)
	}
	result.ToolID = def.ID
	result.Duration = time.Since(start)
	out.Result = result
	d.record(out)
	return out, err
}

func (d *Dispatcher) runLocal(ctx context.Context, def types.ToolDefinition, args map[string]any) (types.ToolCallResult, error) {
	d.handlers.mu.RLock()
	entry, ok := d.handlers.m[def.ID]
	d.handlers.mu.RUnlock()
	if !ok {
		return types.FailedResult(def.ID, types.Errorf(types.ErrToolExecution, "no handler registered for %s", def.ID)), nil
	}

	timeout := entry.timeout
	if timeout == 0 {
		timeout = d.cfg.LocalTimeout
	}
	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// 带缓冲，超时后 handler goroutine 仍能退出
	done := make(chan handlerReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReply{err: types.Errorf(types.ErrToolExecution, "tool %s panicked: %v", def.ID, r)}
			}
		}()
		val, err := entry.fn(execCtx, args)
		done <- handlerReply{val: val, err: err}
	}()

	select {
	case res := <-done:
		if ctx.Err() != nil {
			return types.FailedResult(def.ID, stoppedError(ctx)), ctx.Err()
		}
		if res.err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			d.logger.Warn("local tool timed out", zap.String("tool_id", def.ID), zap.Duration("timeout", timeout))
			return types.FailedResult(def.ID, types.Errorf(types.ErrToolExecution, "execution timeout after %s", timeout)), nil
		}
		if res.err != nil {
			d.logger.Warn("local tool failed", zap.String("tool_id", def.ID), zap.Error(res.err))
			failed := types.FailedResult(def.ID, res.err)
			if failed.ErrorCode == "" {
				failed.ErrorCode = types.ErrToolExecution
			}
			return failed, nil
		}
		if r, ok := res.val.(types.ToolCallResult); ok {
			return r, nil
		}
		return types.ToolCallResult{ToolID: def.ID, Success: true, Result: res.val}, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return types.FailedResult(def.ID, stoppedError(ctx)), ctx.Err()
		}
		d.logger.Warn("local tool timed out", zap.String("tool_id", def.ID), zap.Duration("timeout", timeout))
		return types.FailedResult(def.ID, types.Errorf(types.ErrToolExecution, "execution timeout after %s", timeout)), nil
	}
}

func (d *Dispatcher) runRemote(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	if d.executor == nil {
		err := types.NewError(types.ErrExecutorUnavailable, "no remote executor connected")
		d.logger.Warn("remote executor unavailable",
			zap.String("tool_id", req.ToolID),
			zap.Bool("connection_open", false))
		return types.FailedResult(req.ToolID, err), err
	}

	for attempt := 0; ; attempt++ {
		result, err := d.executor.Execute(ctx, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return types.FailedResult(req.ToolID, stoppedError(ctx)), ctx.Err()
		}

		switch types.GetErrorCode(err) {
		case types.ErrExecutorUnavailable:
			d.logger.Warn("remote executor unavailable",
				zap.String("tool_id", req.ToolID),
				zap.Int("attempt", attempt+1),
				zap.Bool("connection_open", false))
			if attempt >= d.cfg.ExecutorRetries {
				return types.FailedResult(req.ToolID, err), err
			}
			if werr := sleepCtx(ctx, d.cfg.RetryBackoff); werr != nil {
				return types.FailedResult(req.ToolID, stoppedError(ctx)), werr
			}
		case types.ErrCommandTimeout:
			d.logger.Warn("remote command timed out",
				zap.String("tool_id", req.ToolID),
				zap.Bool("connection_open", true))
			return types.FailedResult(req.ToolID, err), nil
		case types.ErrExecutorGone:
			d.logger.Warn("remote executor disconnected during command",
				zap.String("tool_id", req.ToolID),
				zap.Bool("connection_open", false))
			return types.FailedResult(req.ToolID, err), nil
		default:
			return types.FailedResult(req.ToolID, err), nil
		}
	}
}

func (d *Dispatcher) wait(ctx context.Context, toolID string) error {
	l := d.limiters.get(toolID)
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.Errorf(types.ErrRateLimited, "rate limit for %s exceeded, retry later", toolID).WithCause(err)
	}
	return nil
}

func (d *Dispatcher) record(out Outcome) {
	if d.metrics == nil {
		return
	}
	source := string(out.Definition.Source)
	if source == "" {
		source = "unknown"
	}
	d.metrics.RecordToolCall(out.Result.ToolID, source, out.Result.Success, out.Result.Duration)
}

func (s *limiterSet) get(toolID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.m[toolID]; ok {
		return l
	}
	cfg, ok := s.limits[toolID]
	if !ok || cfg.PerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)
	s.m[toolID] = l
	return l
}

func stoppedError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return types.NewError(types.ErrStopped, "invocation stopped before the tool returned").WithCause(cause)
}

// IsFatal reports whether a Dispatch error must end the invocation with status error
// rather than interrupted.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
