package streaming

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/agent/remote"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ObserverConfig configures observer connections.
type ObserverConfig struct {
	// PingInterval 心跳间隔，<= 0 关闭心跳
	PingInterval time.Duration
	// WriteTimeout 单条事件的写超时
	WriteTimeout time.Duration
	// AllowedOrigins 允许的 Origin 模式，为空时只接受同源请求
	AllowedOrigins []string
}

// DefaultObserverConfig returns the defaults used by the server.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Observer streams engine events to WebSocket clients.
type Observer struct {
	emitter *agent.Emitter
	cfg     ObserverConfig
	logger  *zap.Logger
}

// NewObserver creates an observer over emitter. Zero config fields take defaults.
func NewObserver(emitter *agent.Emitter, cfg ObserverConfig, logger *zap.Logger) *Observer {
	def := DefaultObserverConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "observer")),
	}
}

// Handler upgrades the request and streams events until the client goes away.
// A run_id query parameter narrows the stream to one run; otherwise the
// stream carries every run of the session chosen by sessionOf.
func (o *Observer) Handler(sessionOf func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var filter agent.EventFilter
		fields := []zap.Field{}
		if runID := r.URL.Query().Get("run_id"); runID != "" {
			filter = agent.RunFilter(runID)
			fields = append(fields, zap.String("run_id", runID))
		} else {
			sessionID := ""
			if sessionOf != nil {
				sessionID = sessionOf(r)
			}
			if sessionID == "" {
				sessionID = remote.DefaultSessionID
			}
			filter = agent.SessionFilter(sessionID)
			fields = append(fields, zap.String("session_id", sessionID))
		}

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: o.cfg.AllowedOrigins})
		if err != nil {
			o.logger.Warn("websocket accept failed", append(fields, zap.Error(err))...)
			return
		}

		conn := NewEventConnection(ws, o.logger)
		err = o.Stream(r.Context(), conn, ws, filter)
		o.logger.Debug("observer disconnected", append(fields, zap.Error(err))...)
	})
}

// Stream forwards matching events to conn until ctx ends, the client
// disconnects or a write fails.
func (o *Observer) Stream(ctx context.Context, conn *EventConnection, ws *websocket.Conn, filter agent.EventFilter) error {
	sub := o.emitter.Subscribe(filter)
	defer o.emitter.Unsubscribe(sub)

	// 观察者只读事件，客户端发来的消息一律丢弃
	ctx = ws.CloseRead(ctx)

	var pings <-chan time.Time
	if o.cfg.PingInterval > 0 {
		ticker := time.NewTicker(o.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, o.cfg.WriteTimeout)
			err := conn.WriteEvent(wctx, ev)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return err
			}

		case <-pings:
			pctx, cancel := context.WithTimeout(ctx, o.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return err
			}
		}
	}
}
