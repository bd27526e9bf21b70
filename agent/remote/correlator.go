package remote

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultCommandTimeout bounds how long a command waits for its reply.
const DefaultCommandTimeout = 30 * time.Second

// Command outcomes reported to CommandMetrics.
const (
	OutcomeReply        = "reply"
	OutcomeTimeout      = "timeout"
	OutcomeDisconnected = "disconnected"
	OutcomeCancelled    = "cancelled"
	OutcomeSendFailed   = "send_failed"
)

// CommandMetrics receives one record per resolved command.
type CommandMetrics interface {
	RecordRemoteCommand(toolID, outcome string, duration time.Duration)
}

// WriteFunc transmits one encoded command.
type WriteFunc func(ctx context.Context, data []byte) error

// Future is the completion handle of one sent command.
type Future struct {
	id     string
	toolID string
	start  time.Time
	done   chan struct{}
	reply  Reply
	err    error
}

// ID returns the commandId.
func (f *Future) ID() string { return f.id }

// Done is closed once the command has been resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Correlator pairs commands with replies over one executor connection.
// Every pending command is resolved exactly once: by its reply, by its
// deadline, by the caller giving up, or by Close.
type Correlator struct {
	write   WriteFunc
	timeout time.Duration
	metrics CommandMetrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingCommand
	closed  bool
}

type pendingCommand struct {
	future *Future
	timer  *time.Timer
}

// NewCorrelator 创建关联器。timeout <= 0 时使用 DefaultCommandTimeout。
func NewCorrelator(write WriteFunc, timeout time.Duration, metrics CommandMetrics, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		write:   write,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "command_correlator")),
		pending: make(map[string]*pendingCommand),
	}
}

// Send registers a pending command, starts its deadline and transmits it.
// The pending entry exists before the write so an immediate reply is matched.
func (c *Correlator) Send(ctx context.Context, req types.ToolCallRequest) (*Future, error) {
	id := uuid.NewString()
	data, err := EncodeCommand(id, req)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "command cannot be encoded").WithCause(err)
	}

	f := &Future{id: id, toolID: req.ToolID, start: time.Now(), done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, types.NewError(types.ErrExecutorUnavailable, "executor connection closed")
	}
	p := &pendingCommand{future: f}
	c.pending[id] = p
	p.timer = time.AfterFunc(c.timeout, func() {
		c.resolve(id, Reply{}, types.Errorf(types.ErrCommandTimeout,
			"executor did not reply to %s within %s", req.ToolID, c.timeout), OutcomeTimeout)
	})
	c.mu.Unlock()

	if err := c.write(ctx, data); err != nil {
		c.resolve(id, Reply{}, types.NewError(types.ErrExecutorGone, "failed to send command").WithCause(err), OutcomeSendFailed)
		<-f.done
		return nil, f.err
	}
	c.logger.Debug("command sent",
		zap.String("command_id", id),
		zap.String("tool_id", req.ToolID))
	return f, nil
}

// Wait blocks until f resolves or ctx is done. A cancelled wait resolves the
// command so it does not linger in the pending map.
func (c *Correlator) Wait(ctx context.Context, f *Future) (Reply, error) {
	select {
	case <-f.done:
		return f.reply, f.err
	case <-ctx.Done():
		c.resolve(f.id, Reply{}, ctx.Err(), OutcomeCancelled)
		<-f.done
		return f.reply, f.err
	}
}

// Execute sends req and converts the reply into a ToolCallResult.
func (c *Correlator) Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanRemoteCommand,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.KeyToolID.String(req.ToolID)))
	defer span.End()

	f, err := c.Send(ctx, req)
	if err != nil {
		telemetry.Fail(span, err)
		return types.ToolCallResult{}, err
	}
	span.SetAttributes(telemetry.KeyCommandID.String(f.id))
	reply, err := c.Wait(ctx, f)
	if err != nil {
		telemetry.Fail(span, err)
		return types.ToolCallResult{}, err
	}
	res := reply.Result(req.ToolID)
	res.Duration = time.Since(f.start)
	span.SetAttributes(telemetry.KeyToolSuccess.Bool(res.Success))
	return res, nil
}

// Deliver resolves the pending command named by reply.CommandID.
// It returns false when no such command is pending (late, duplicate or unknown).
func (c *Correlator) Deliver(reply Reply) bool {
	ok := c.resolve(reply.CommandID, reply, nil, OutcomeReply)
	if !ok {
		c.logger.Debug("reply without pending command", zap.String("command_id", reply.CommandID))
	}
	return ok
}

// Close fails every pending command with err and rejects further sends.
func (c *Correlator) Close(err error) int {
	if err == nil {
		err = types.NewError(types.ErrExecutorGone, "executor disconnected")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.resolve(id, Reply{}, err, OutcomeDisconnected) {
			n++
		}
	}
	if n > 0 {
		c.logger.Warn("pending commands failed on disconnect", zap.Int("count", n))
	}
	return n
}

// Pending returns the number of unresolved commands.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// resolve is the single check-and-remove point. Only the caller that removes
// the entry completes the future.
func (c *Correlator) resolve(id string, reply Reply, err error, outcome string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	f := p.future
	elapsed := time.Since(f.start)
	if outcome == OutcomeTimeout {
		c.logger.Warn("command timed out",
			zap.String("command_id", id),
			zap.String("tool_id", f.toolID),
			zap.Duration("elapsed", elapsed),
			zap.Bool("connection_open", true))
	}
	if c.metrics != nil {
		c.metrics.RecordRemoteCommand(f.toolID, outcome, elapsed)
	}

	f.reply = reply
	f.err = err
	close(f.done)
	return true
}
