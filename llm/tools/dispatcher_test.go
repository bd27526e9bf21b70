package tools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []types.ToolCallRequest
	errs  []error
	reply func(types.ToolCallRequest) types.ToolCallResult
}

func (f *fakeExecutor) Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return types.ToolCallResult{}, err
	}
	if f.reply != nil {
		return f.reply(req), nil
	}
	return types.ToolCallResult{ToolID: req.ToolID, Success: true, Result: "ok"}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingMetrics struct {
	mu      sync.Mutex
	records []string
}

func (m *recordingMetrics) RecordToolCall(toolID, source string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "failure"
	if success {
		status = "success"
	}
	m.records = append(m.records, toolID+"/"+source+"/"+status)
}

func newTestDispatcher(t *testing.T, cfg DispatcherConfig, exec RemoteExecutor) *Dispatcher {
	t.Helper()
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, reg.RegisterLocal(FetchURLDefinition()))
	require.NoError(t, reg.ReplaceRemote(DefaultRemoteCatalog()))
	return NewDispatcher(cfg, reg, exec, zap.NewNop())
}

func TestDispatcher_RemoteCallNormalized(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, DispatcherConfig{}, exec)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    "mouse_move",
		Arguments: map[string]any{"x": "12", "y": "7"},
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Equal(t, "mouse_move", out.Result.ToolID)
	assert.Equal(t, types.ToolSourceRemote, out.Definition.Source)

	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, 12.0, exec.calls[0].Arguments["x"])
	assert.Equal(t, 7.0, exec.calls[0].Arguments["y"])
	assert.Equal(t, exec.calls[0].Arguments, out.Request.Arguments)
}

func TestDispatcher_UnknownToolIsObservation(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, DispatcherConfig{}, exec)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: "teleport"})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, types.ErrToolNotFound, out.Result.ErrorCode)
	assert.Contains(t, out.Result.Error, "teleport")
	assert.Zero(t, exec.callCount())
}

func TestDispatcher_ValidationErrorIsObservation(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, DispatcherConfig{}, exec)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    "mouse_move",
		Arguments: map[string]any{"x": 1},
	})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, types.ErrValidation, out.Result.ErrorCode)
	assert.Contains(t, out.Result.Error, `"y"`)
	assert.Zero(t, exec.callCount())
}

func TestDispatcher_ScopedRejectsDisabledTool(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, DispatcherConfig{}, exec).Scoped([]string{"mouse_click"})

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    "mouse_move",
		Arguments: map[string]any{"x": 1, "y": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, types.ErrToolNotFound, out.Result.ErrorCode)

	defs := d.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "mouse_click", defs[0].ID)
}

func TestDispatcher_LocalHandler(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{}, nil)
	d.Handle(FetchURLToolID, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"echo": args["url"], "html": args["include_html"]}, nil
	}, 0)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    FetchURLToolID,
		Arguments: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	require.True(t, out.Result.Success)
	payload := out.Result.Result.(map[string]any)
	assert.Equal(t, "https://example.com", payload["echo"])
	assert.Equal(t, false, payload["html"], "default applied")
}

func TestDispatcher_LocalHandlerResultPassthrough(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{}, nil)
	d.Handle(FetchURLToolID, func(ctx context.Context, args map[string]any) (any, error) {
		return types.ToolCallResult{Success: false, Result: "partial", Error: "child failed"}, nil
	}, 0)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    FetchURLToolID,
		Arguments: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, "partial", out.Result.Result)
	assert.Equal(t, FetchURLToolID, out.Result.ToolID)
}

func TestDispatcher_LocalHandlerErrorAndPanic(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{}, nil)
	args := map[string]any{"url": "https://example.com"}

	d.Handle(FetchURLToolID, func(ctx context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	}, 0)
	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: FetchURLToolID, Arguments: args})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Equal(t, types.ErrToolExecution, out.Result.ErrorCode)
	assert.Equal(t, "boom", out.Result.Error)

	d.Handle(FetchURLToolID, func(ctx context.Context, _ map[string]any) (any, error) {
		panic("kaboom")
	}, 0)
	out, err = d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: FetchURLToolID, Arguments: args})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "kaboom")
}

func TestDispatcher_LocalTimeout(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{LocalTimeout: 20 * time.Millisecond}, nil)
	d.Handle(FetchURLToolID, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 0)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    FetchURLToolID,
		Arguments: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Contains(t, out.Result.Error, "timeout")
}

func TestDispatcher_NoExecutorIsFatal(t *testing.T) {
	d := newTestDispatcher(t, DispatcherConfig{}, nil)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    "take_screenshot",
		Arguments: map[string]any{},
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutorUnavailable))
	assert.True(t, IsFatal(err))
	assert.False(t, out.Result.Success)
	assert.Equal(t, types.ErrExecutorUnavailable, out.Result.ErrorCode)
}

func TestDispatcher_ExecutorRetries(t *testing.T) {
	unavailable := types.NewError(types.ErrExecutorUnavailable, "no executor")
	exec := &fakeExecutor{errs: []error{unavailable, unavailable}}
	d := newTestDispatcher(t, DispatcherConfig{ExecutorRetries: 2, RetryBackoff: time.Millisecond}, exec)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Equal(t, 3, exec.callCount())
}

func TestDispatcher_ExecutorRetriesExhausted(t *testing.T) {
	unavailable := types.NewError(types.ErrExecutorUnavailable, "no executor")
	exec := &fakeExecutor{errs: []error{unavailable, unavailable, unavailable}}
	d := newTestDispatcher(t, DispatcherConfig{ExecutorRetries: 1, RetryBackoff: time.Millisecond}, exec)

	_, err := d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutorUnavailable))
	assert.Equal(t, 2, exec.callCount())
}

func TestDispatcher_TimeoutAndDisconnectAreRecoverable(t *testing.T) {
	for _, code := range []types.ErrorCode{types.ErrCommandTimeout, types.ErrExecutorGone} {
		t.Run(string(code), func(t *testing.T) {
			exec := &fakeExecutor{errs: []error{types.NewError(code, "remote failure")}}
			d := newTestDispatcher(t, DispatcherConfig{ExecutorRetries: 3}, exec)

			out, err := d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: "get_mouse_position"})
			require.NoError(t, err)
			assert.False(t, out.Result.Success)
			assert.Equal(t, code, out.Result.ErrorCode)
			assert.Equal(t, 1, exec.callCount(), "only unavailability is retried")
		})
	}
}

func TestDispatcher_CancelledContextIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExecutor{reply: func(req types.ToolCallRequest) types.ToolCallResult {
		cancel()
		return types.ToolCallResult{}
	}}
	d := newTestDispatcher(t, DispatcherConfig{}, &cancellingExecutor{inner: exec, ctxErr: context.Canceled})

	out, err := d.Dispatch(ctx, types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))
	assert.Equal(t, types.ErrStopped, out.Result.ErrorCode)
}

// cancellingExecutor runs inner (which cancels the caller) and then reports ctxErr.
type cancellingExecutor struct {
	inner  *fakeExecutor
	ctxErr error
}

func (c *cancellingExecutor) Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	_, _ = c.inner.Execute(ctx, req)
	<-ctx.Done()
	return types.ToolCallResult{}, c.ctxErr
}

func TestDispatcher_RateLimit(t *testing.T) {
	var calls atomic.Int32
	exec := &fakeExecutor{reply: func(req types.ToolCallRequest) types.ToolCallResult {
		calls.Add(1)
		return types.ToolCallResult{Success: true}
	}}
	d := newTestDispatcher(t, DispatcherConfig{
		RateLimits: map[string]RateLimit{"get_mouse_position": {PerSecond: 1, Burst: 1}},
	}, exec)

	_, err := d.Dispatch(context.Background(), types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.NoError(t, err)

	// 令牌要 1 秒后才有，20ms 的截止时间等不到
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := d.Dispatch(ctx, types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.NoError(t, err, "a rate-limited call is a failed observation, not a stop")
	assert.False(t, out.Result.Success)
	assert.Equal(t, types.ErrRateLimited, out.Result.ErrorCode)
	assert.Equal(t, int32(1), calls.Load())

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	out, err = d.Dispatch(cancelled, types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, types.ErrStopped, out.Result.ErrorCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_ForSessionSharesHandlers(t *testing.T) {
	base := NewDispatcher(DispatcherConfig{}, nil, nil, zap.NewNop())
	base.Handle(FetchURLToolID, func(ctx context.Context, _ map[string]any) (any, error) {
		return "fetched", nil
	}, 0)

	reg := NewRegistry(zap.NewNop())
	require.NoError(t, reg.RegisterLocal(FetchURLDefinition()))
	metrics := &recordingMetrics{}
	d := base.WithMetrics(metrics).ForSession(reg, nil)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    FetchURLToolID,
		Arguments: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fetched", out.Result.Result)
	assert.Equal(t, []string{"fetch_url/local/success"}, metrics.records)
	assert.Nil(t, base.Registry(), "base dispatcher is not modified")
}

func TestDispatcher_DropsEnvelopeArgumentsForRemoteTools(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(t, DispatcherConfig{}, exec)

	out, err := d.Dispatch(context.Background(), types.ToolCallRequest{
		ToolID:    "keyboard_input",
		Arguments: map[string]any{"text": "hello", "type": "mouse_click", "commandId": "spoofed"},
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	require.Equal(t, 1, exec.callCount())
	assert.Equal(t, map[string]any{"text": "hello"}, exec.calls[0].Arguments)
}
