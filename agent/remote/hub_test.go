package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is an in-memory Conn. toServer feeds Read, fromServer receives Write.
type pipeConn struct {
	toServer   chan []byte
	fromServer chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toServer:   make(chan []byte, 16),
		fromServer: make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.toServer:
		return data, nil
	case <-p.closed:
		return nil, errPipeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	select {
	case p.fromServer <- data:
		return nil
	case <-p.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Ping(context.Context) error { return nil }

func (p *pipeConn) Close(string) error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	p.toServer <- data
}

func (p *pipeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-p.fromServer:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message from server")
		return nil
	}
}

func startServe(t *testing.T, h *Hub, session string, conn Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), session, conn) }()
	return done
}

func mustSession(t *testing.T, h *Hub, id string) *Session {
	t.Helper()
	s, ok := h.Session(id)
	require.True(t, ok, "session %s not created", id)
	return s
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, s.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestHub_HandshakeInstallsCatalog(t *testing.T) {
	h := NewHub(HubConfig{CommandTimeout: time.Second}, []types.ToolDefinition{tools.FetchURLDefinition()}, nil, zap.NewNop())
	conn := newPipeConn()
	startServe(t, h, "s1", conn)

	conn.send(t, Handshake{Type: TypeHandshake, Client: "desktop", Version: "2.0", Tools: []types.ToolDefinition{
		{ID: "open_app", Parameters: []types.ParameterSpec{{Name: "name", Type: types.ParamString, Required: true}}},
	}})
	ack := conn.next(t)
	assert.Equal(t, TypeHandshakeAck, ack["type"])
	assert.Equal(t, "agentrelay", ack["server"])
	assert.NotZero(t, ack["timestamp"])
	_, hasCommandID := ack["commandId"]
	assert.False(t, hasCommandID)

	s := mustSession(t, h, "s1")
	waitConnected(t, s)
	_, ok := s.Registry().Lookup("open_app")
	assert.True(t, ok)
	_, ok = s.Registry().Lookup(tools.FetchURLToolID)
	assert.True(t, ok, "local tools are registered in every session")
	_, ok = s.Registry().Lookup("mouse_move")
	assert.False(t, ok)
}

func TestHub_EmptyHandshakeUsesDefaultCatalog(t *testing.T) {
	h := NewHub(HubConfig{}, nil, nil, nil)
	conn := newPipeConn()
	startServe(t, h, "s1", conn)

	conn.send(t, Handshake{Type: TypeHandshake, Client: "desktop", Version: "1.0"})
	conn.next(t)

	_, ok := mustSession(t, h, "s1").Registry().Lookup("take_screenshot")
	assert.True(t, ok)
}

func TestHub_RejectsMissingHandshake(t *testing.T) {
	m := newCountingMetrics()
	h := NewHub(HubConfig{}, nil, m, zap.NewNop())
	conn := newPipeConn()
	done := startServe(t, h, "s1", conn)

	conn.send(t, map[string]any{"type": "success", "commandId": "x"})
	assert.Error(t, testutil.Receive(t, done, 2*time.Second, "serve to return"))
	_, ok := h.Session("s1")
	assert.False(t, ok, "rejected connections do not create sessions")
	assert.Equal(t, []string{EventRejected}, m.events)
}

func TestHub_CommandRoundTripAndPingFiltering(t *testing.T) {
	h := NewHub(HubConfig{CommandTimeout: 2 * time.Second}, nil, nil, zap.NewNop())
	conn := newPipeConn()
	startServe(t, h, "s1", conn)
	conn.send(t, Handshake{Type: TypeHandshake, Client: "desktop"})
	conn.next(t)
	s := mustSession(t, h, "s1")
	waitConnected(t, s)

	type execResult struct {
		res types.ToolCallResult
		err error
	}
	results := make(chan execResult, 1)
	go func() {
		res, err := s.Execute(context.Background(), types.ToolCallRequest{
			ToolID:    "mouse_move",
			Arguments: map[string]any{"x": 10.0, "y": 20.0},
		})
		results <- execResult{res, err}
	}()

	cmd := conn.next(t)
	assert.Equal(t, "mouse_move", cmd["type"])
	assert.Equal(t, 10.0, cmd["x"])
	id := cmd["commandId"].(string)
	require.NotEmpty(t, id)

	// 协议消息不会被当作回复
	conn.send(t, map[string]any{"type": "ping"})
	assert.Equal(t, TypePong, conn.next(t)["type"])
	conn.send(t, map[string]any{"type": "success", "message": "stale", "commandId": "unknown"})
	conn.send(t, map[string]any{"type": "success", "message": "Mouse moved", "commandId": id})

	r := testutil.Receive(t, results, 2*time.Second, "command result")
	require.NoError(t, r.err)
	assert.True(t, r.res.Success)
	assert.Equal(t, "Mouse moved", r.res.Result)
}

func TestHub_DisconnectFailsPending(t *testing.T) {
	m := newCountingMetrics()
	h := NewHub(HubConfig{CommandTimeout: time.Minute}, nil, m, zap.NewNop())
	conn := newPipeConn()
	done := startServe(t, h, "s1", conn)
	conn.send(t, Handshake{Type: TypeHandshake})
	conn.next(t)
	s := mustSession(t, h, "s1")
	waitConnected(t, s)

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.Execute(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		conn.next(t)
	}

	_ = conn.Close("executor crashed")
	for i := 0; i < n; i++ {
		err := testutil.Receive(t, errs, 2*time.Second, "pending command to fail on disconnect")
		assert.True(t, types.IsErrorCode(err, types.ErrExecutorGone), "got %v", err)
	}
	<-done
	assert.False(t, s.Connected())

	_, err := s.Execute(context.Background(), types.ToolCallRequest{ToolID: "mouse_click"})
	assert.True(t, types.IsErrorCode(err, types.ErrExecutorUnavailable))
	_, ok := s.Registry().Lookup("mouse_click")
	assert.True(t, ok, "catalog survives until the next handshake")
}

func TestHub_NewConnectionSupersedesOld(t *testing.T) {
	m := newCountingMetrics()
	h := NewHub(HubConfig{CommandTimeout: time.Minute}, nil, m, zap.NewNop())

	first := newPipeConn()
	firstDone := startServe(t, h, "s1", first)
	first.send(t, Handshake{Type: TypeHandshake, Client: "old", Tools: []types.ToolDefinition{{ID: "legacy_tool"}}})
	first.next(t)
	s := mustSession(t, h, "s1")
	waitConnected(t, s)

	pending := make(chan error, 1)
	go func() {
		_, err := s.Execute(context.Background(), types.ToolCallRequest{ToolID: "legacy_tool"})
		pending <- err
	}()
	first.next(t)

	second := newPipeConn()
	startServe(t, h, "s1", second)
	second.send(t, Handshake{Type: TypeHandshake, Client: "new", Tools: []types.ToolDefinition{{ID: "fresh_tool"}}})
	second.next(t)

	err := testutil.Receive(t, pending, 2*time.Second, "command on superseded connection to fail")
	assert.True(t, types.IsErrorCode(err, types.ErrExecutorGone))
	testutil.Receive(t, firstDone, 2*time.Second, "superseded connection to close")

	assert.True(t, s.Connected())
	assert.Equal(t, "new", s.Info().Client)
	assert.False(t, s.Registry().Validate("legacy_tool", nil).Valid, "stale tool ids fail validation")
	assert.True(t, s.Registry().Validate("fresh_tool", nil).Valid)
	assert.Equal(t, 1, h.ConnectedCount())
	assert.Contains(t, m.events, EventSuperseded)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := NewHub(HubConfig{CommandTimeout: 2 * time.Second}, nil, nil, zap.NewNop())
	srv := httptest.NewServer(h.Handler(func(r *http.Request) string { return r.URL.Query().Get("session_id") }))
	defer srv.Close()
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?session_id=desk-1", nil)
	require.NoError(t, err)
	client := NewWSConn(ws)
	defer client.Close("test done")

	hs, _ := json.Marshal(Handshake{Type: TypeHandshake, Client: "desktop", Version: "1.0"})
	require.NoError(t, client.Write(ctx, hs))
	data, err := client.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), TypeHandshakeAck)

	// 模拟执行器：回复 get_mouse_position
	go func() {
		for {
			data, err := client.Read(ctx)
			if err != nil {
				return
			}
			var cmd map[string]any
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			reply, _ := json.Marshal(map[string]any{"type": "mouse_position", "x": 7, "y": 9, "commandId": cmd["commandId"]})
			_ = client.Write(ctx, reply)
		}
	}()

	s := mustSession(t, h, "desk-1")
	waitConnected(t, s)
	res, err := s.Execute(ctx, types.ToolCallRequest{ToolID: "get_mouse_position", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"x": 7.0, "y": 9.0, "kind": "mouse_position"}, res.Result)

	infos := h.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "desk-1", infos[0].SessionID)
	assert.True(t, infos[0].Connected)
}

func TestHub_ResolveUnknownSessionIsDetached(t *testing.T) {
	h := NewHub(HubConfig{}, []types.ToolDefinition{tools.FetchURLDefinition()}, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		reg, exec := h.Resolve("body-supplied-id")
		_, ok := reg.Lookup("mouse_move")
		assert.True(t, ok, "default remote catalog is offered before any handshake")
		_, ok = reg.Lookup(tools.FetchURLToolID)
		assert.True(t, ok)

		_, err := exec.Execute(context.Background(), types.ToolCallRequest{ToolID: "mouse_move"})
		assert.True(t, types.IsErrorCode(err, types.ErrExecutorUnavailable), "got %v", err)
	}

	assert.Empty(t, h.Sessions())
	_, ok := h.Session("body-supplied-id")
	assert.False(t, ok)
}

func TestHub_ResolveConnectedSession(t *testing.T) {
	h := NewHub(HubConfig{}, nil, nil, zap.NewNop())
	conn := newPipeConn()
	startServe(t, h, DefaultSessionID, conn)
	conn.send(t, Handshake{Type: TypeHandshake, Tools: []types.ToolDefinition{{ID: "open_app"}}})
	conn.next(t)

	reg, exec := h.Resolve("")
	s := mustSession(t, h, DefaultSessionID)
	assert.Same(t, s.Registry(), reg)
	assert.Same(t, s, exec)
	_, ok := reg.Lookup("open_app")
	assert.True(t, ok)
}

func TestHub_RejectsCatalogWithEnvelopeParameter(t *testing.T) {
	m := newCountingMetrics()
	h := NewHub(HubConfig{}, nil, m, zap.NewNop())
	conn := newPipeConn()
	done := startServe(t, h, "s1", conn)

	conn.send(t, Handshake{Type: TypeHandshake, Tools: []types.ToolDefinition{
		{ID: "open_app", Parameters: []types.ParameterSpec{{Name: "commandId", Type: types.ParamString}}},
	}})
	err := testutil.Receive(t, done, 2*time.Second, "serve to return")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
	_, ok := h.Session("s1")
	assert.False(t, ok)
	assert.Equal(t, []string{EventRejected}, m.events)
}
