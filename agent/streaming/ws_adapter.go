package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// EventConnection 将 websocket 连接适配为事件写入端。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type EventConnection struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex // 保护写操作
	closed bool
}

// NewEventConnection 从已建立的 WebSocket 连接创建适配器。
func NewEventConnection(conn *websocket.Conn, logger *zap.Logger) *EventConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventConnection{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_event_connection")),
	}
}

// WriteEvent 将事件序列化为 JSON 并通过 WebSocket 发送。
func (w *EventConnection) WriteEvent(ctx context.Context, ev agent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("connection closed")
	}
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Ping 发送 ping 并等待 pong。
func (w *EventConnection) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// Close 关闭 WebSocket 连接。
func (w *EventConnection) Close(code websocket.StatusCode, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.conn.Close(code, reason)
}

// IsAlive 检查连接是否存活。
func (w *EventConnection) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}
