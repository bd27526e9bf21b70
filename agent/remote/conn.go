package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Conn is one executor connection carrying JSON text messages.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// WSConn adapts a websocket connection to Conn. Writes are serialized.
type WSConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWSConn wraps an accepted or dialed websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read returns the next text message.
func (w *WSConn) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("websocket read: unexpected binary message")
	}
	return data, nil
}

// Write sends one text message.
func (w *WSConn) Write(ctx context.Context, data []byte) error {
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

// Ping sends a websocket ping and waits for the pong.
func (w *WSConn) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// Close closes the connection with a normal closure status.
func (w *WSConn) Close(reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}
