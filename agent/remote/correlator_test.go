package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// captureWriter records every transmitted command.
type captureWriter struct {
	mu   sync.Mutex
	sent []map[string]any
	err  error
	hook func(envelope map[string]any)
}

func (w *captureWriter) write(_ context.Context, data []byte) error {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	w.mu.Lock()
	w.sent = append(w.sent, envelope)
	hook, err := w.hook, w.err
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(envelope)
	}
	return nil
}

func (w *captureWriter) lastID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[len(w.sent)-1]["commandId"].(string)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	events   []string
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}}
}

func (m *countingMetrics) RecordRemoteCommand(_, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *countingMetrics) RecordExecutorConnection(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *countingMetrics) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.outcomes {
		n += v
	}
	return n
}

func TestCorrelator_ReplyResolves(t *testing.T) {
	w := &captureWriter{}
	c := NewCorrelator(w.write, time.Second, nil, zap.NewNop())

	f, err := c.Send(context.Background(), types.ToolCallRequest{ToolID: "mouse_move", Arguments: map[string]any{"x": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, f.ID(), w.lastID())

	assert.True(t, c.Deliver(Reply{Type: ReplySuccess, CommandID: f.ID(), Fields: map[string]any{"message": "ok"}}))
	assert.False(t, c.Deliver(Reply{Type: ReplySuccess, CommandID: f.ID()}), "duplicate reply is ignored")

	reply, err := c.Wait(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Fields["message"])
	assert.Zero(t, c.Pending())
}

func TestCorrelator_ExecuteWithImmediateReply(t *testing.T) {
	w := &captureWriter{}
	var c *Correlator
	w.hook = func(envelope map[string]any) {
		// 在 write 返回之前回复，验证 pending 先于发送注册
		c.Deliver(Reply{
			Type:      "mouse_position",
			CommandID: envelope["commandId"].(string),
			Fields:    map[string]any{"x": 5.0, "y": 6.0},
		})
	}
	c = NewCorrelator(w.write, time.Second, nil, nil)

	res, err := c.Execute(context.Background(), types.ToolCallRequest{ToolID: "get_mouse_position"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "mouse_position", res.Result.(map[string]any)["kind"])
}

func TestCorrelator_Timeout(t *testing.T) {
	w := &captureWriter{}
	m := newCountingMetrics()
	c := NewCorrelator(w.write, 30*time.Millisecond, m, zap.NewNop())

	_, err := c.Execute(context.Background(), types.ToolCallRequest{ToolID: "take_screenshot"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCommandTimeout))
	assert.Zero(t, c.Pending())

	assert.False(t, c.Deliver(Reply{Type: ReplySuccess, CommandID: w.lastID()}), "late reply finds nothing")
	assert.Equal(t, 1, m.outcomes[OutcomeTimeout])
}

func TestCorrelator_CloseFailsAllPending(t *testing.T) {
	w := &captureWriter{}
	c := NewCorrelator(w.write, time.Minute, nil, zap.NewNop())

	const n = 25
	futures := make([]*Future, 0, n)
	for i := 0; i < n; i++ {
		f, err := c.Send(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	require.Equal(t, n, c.Pending())

	assert.Equal(t, n, c.Close(nil))
	assert.Zero(t, c.Pending())

	for _, f := range futures {
		select {
		case <-f.Done():
		case <-time.After(time.Second):
			t.Fatal("future not resolved after close")
		}
		_, err := c.Wait(context.Background(), f)
		assert.True(t, types.IsErrorCode(err, types.ErrExecutorGone))
	}

	_, err := c.Send(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
	assert.True(t, types.IsErrorCode(err, types.ErrExecutorUnavailable))
	assert.Zero(t, c.Close(nil), "second close is a no-op")
}

func TestCorrelator_WriteFailure(t *testing.T) {
	w := &captureWriter{err: errors.New("broken pipe")}
	c := NewCorrelator(w.write, time.Second, nil, zap.NewNop())

	_, err := c.Send(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutorGone))
	assert.Zero(t, c.Pending())
}

func TestCorrelator_CancelledWaitRemovesPending(t *testing.T) {
	w := &captureWriter{}
	c := NewCorrelator(w.write, time.Minute, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	f, err := c.Send(ctx, types.ToolCallRequest{ToolID: "mouse_click"})
	require.NoError(t, err)
	cancel()

	_, err = c.Wait(ctx, f)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Pending())
}

func TestCorrelator_ConcurrentSenders(t *testing.T) {
	var c *Correlator
	w := &captureWriter{}
	w.hook = func(envelope map[string]any) {
		id := envelope["commandId"].(string)
		go c.Deliver(Reply{Type: ReplySuccess, CommandID: id, Fields: map[string]any{"message": id}})
	}
	c = NewCorrelator(w.write, 5*time.Second, nil, zap.NewNop())

	const n = 100
	var wg sync.WaitGroup
	var mismatched atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := c.Send(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
			if err != nil {
				mismatched.Add(1)
				return
			}
			reply, err := c.Wait(context.Background(), f)
			if err != nil || reply.Fields["message"] != f.ID() {
				mismatched.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, mismatched.Load(), "every sender receives the reply carrying its own commandId")
	assert.Zero(t, c.Pending())
}

// Every issued command is resolved exactly once, whichever of reply, timeout,
// cancellation or disconnect happens first.
func TestProperty_ExactlyOnceResolution(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := &captureWriter{}
		m := newCountingMetrics()
		c := NewCorrelator(w.write, time.Duration(rapid.IntRange(1, 20).Draw(rt, "timeout_ms"))*time.Millisecond, m, zap.NewNop())

		n := rapid.IntRange(1, 20).Draw(rt, "commands")
		futures := make([]*Future, 0, n)
		for i := 0; i < n; i++ {
			f, err := c.Send(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
			if err != nil {
				rt.Fatalf("send: %v", err)
			}
			futures = append(futures, f)
		}

		var wg sync.WaitGroup
		for _, f := range futures {
			action := rapid.IntRange(0, 3).Draw(rt, "action")
			wg.Add(1)
			go func(f *Future, action int) {
				defer wg.Done()
				switch action {
				case 0:
					c.Deliver(Reply{Type: ReplySuccess, CommandID: f.ID()})
					c.Deliver(Reply{Type: ReplySuccess, CommandID: f.ID()})
				case 1:
					ctx, cancel := context.WithCancel(context.Background())
					cancel()
					_, _ = c.Wait(ctx, f)
				case 2:
					// 等待超时
				case 3:
					c.Deliver(Reply{Type: ReplyError, CommandID: f.ID(), Fields: map[string]any{"error": "x"}})
				}
			}(f, action)
		}
		if rapid.Bool().Draw(rt, "disconnect") {
			c.Close(nil)
		}
		wg.Wait()

		for _, f := range futures {
			select {
			case <-f.Done():
			case <-time.After(time.Second):
				rt.Fatalf("command %s never resolved", f.ID())
			}
		}
		if got := m.total(); got != n {
			rt.Fatalf("expected %d resolutions, got %d", n, got)
		}
		if c.Pending() != 0 {
			rt.Fatalf("leaked %d pending commands", c.Pending())
		}
	})
}
