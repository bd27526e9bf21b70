package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/BaSui01/agentrelay/types"
	"github.com/coder/websocket"
)

// CommandHandler answers one command envelope. The returned map becomes the
// reply; commandId is filled in automatically.
type CommandHandler func(cmd map[string]any) map[string]any

// FakeExecutor is a remote executor client speaking the executor protocol over
// a real websocket connection.
type FakeExecutor struct {
	conn    *websocket.Conn
	handler CommandHandler

	mu       sync.Mutex
	commands []map[string]any
	done     chan struct{}
}

// DialExecutor connects to url, sends a handshake announcing catalog and
// serves commands with handler until Close. It waits for the handshake_ack.
func DialExecutor(ctx context.Context, url string, header http.Header, catalog []types.ToolDefinition, handler CommandHandler) (*FakeExecutor, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial executor endpoint: %w", err)
	}
	hs, err := json.Marshal(map[string]any{
		"type":    "handshake",
		"client":  "fake-executor",
		"version": "test",
		"tools":   catalog,
	})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, hs); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	_, ack, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read handshake ack: %w", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(ack, &msg); err != nil || msg["type"] != "handshake_ack" {
		conn.CloseNow()
		return nil, fmt.Errorf("unexpected handshake reply: %s", ack)
	}

	if handler == nil {
		handler = func(cmd map[string]any) map[string]any {
			return map[string]any{"type": "success", "message": fmt.Sprintf("%v done", cmd["type"])}
		}
	}
	f := &FakeExecutor{conn: conn, handler: handler, done: make(chan struct{})}
	go f.serve()
	return f, nil
}

func (f *FakeExecutor) serve() {
	defer close(f.done)
	ctx := context.Background()
	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd map[string]any
		if json.Unmarshal(data, &cmd) != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		reply := f.handler(cmd)
		if reply == nil {
			continue
		}
		reply["commandId"] = cmd["commandId"]
		out, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if err := f.conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

// Commands returns the envelopes received so far.
func (f *FakeExecutor) Commands() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.commands...)
}

// Close closes the connection and waits for the serve loop to exit.
func (f *FakeExecutor) Close() {
	_ = f.conn.Close(websocket.StatusNormalClosure, "test done")
	<-f.done
}
