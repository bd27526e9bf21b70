package remote

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Connection events reported to Metrics.
const (
	EventConnected    = "connected"
	EventSuperseded   = "superseded"
	EventDisconnected = "disconnected"
	EventRejected     = "rejected"
)

// DefaultSessionID 未携带会话标识的执行器与运行共享此会话
const DefaultSessionID = "default"

// Metrics is implemented by the Prometheus collector.
type Metrics interface {
	CommandMetrics
	RecordExecutorConnection(event string)
}

// HubConfig configures executor connections.
type HubConfig struct {
	ServerName       string
	CommandTimeout   time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// AllowedOrigins 允许的 Origin 模式，为空时只接受同源请求
	AllowedOrigins []string
}

// DefaultHubConfig returns the defaults used by the server.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ServerName:       "agentrelay",
		CommandTimeout:   DefaultCommandTimeout,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// SessionInfo is a snapshot of one executor session.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	Connected      bool      `json:"connected"`
	Client         string    `json:"client,omitempty"`
	Version        string    `json:"version,omitempty"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
	Tools          int       `json:"tools"`
	PendingCalls   int       `json:"pending_calls"`
	CatalogVersion uint64    `json:"catalog_version"`
}

// Hub accepts executor connections and keeps one live connection per session.
// A newer connection for the same session supersedes the older one.
type Hub struct {
	cfg        HubConfig
	localTools []types.ToolDefinition
	metrics    Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub 创建执行器连接中心。localTools 会注册到每个会话的工具注册表中。
func NewHub(cfg HubConfig, localTools []types.ToolDefinition, metrics Metrics, logger *zap.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.ServerName == "" {
		cfg.ServerName = def.ServerName
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:        cfg,
		localTools: localTools,
		metrics:    metrics,
		logger:     logger.With(zap.String("component", "executor_hub")),
		sessions:   make(map[string]*Session),
	}
}

// Session returns the session for id. Sessions exist once an executor has
// completed a handshake for them.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// acceptCatalog installs a handshake catalog, creating the session on the
// first accepted handshake. A rejected catalog leaves no new session behind.
func (h *Hub) acceptCatalog(id string, reported []types.ToolDefinition) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		s = h.newSession(id)
	}
	if err := s.applyCatalog(reported); err != nil {
		return nil, err
	}
	h.sessions[id] = s
	return s, nil
}

// newSession 新会话的远程目录预置为默认桌面工具，握手后再替换
func (h *Hub) newSession(id string) *Session {
	reg := tools.NewRegistry(h.logger)
	for _, def := range h.localTools {
		if err := reg.RegisterLocal(def); err != nil {
			h.logger.Error("local tool registration failed", zap.String("tool_id", def.ID), zap.Error(err))
		}
	}
	if err := reg.ReplaceRemote(tools.DefaultRemoteCatalog()); err != nil {
		h.logger.Error("default remote catalog rejected", zap.Error(err))
	}
	return &Session{id: id, registry: reg}
}

// Resolve returns the registry and executor of a session, for the engine.
// Unknown sessions get a detached session that is not kept: its remote tools
// are the default catalog and every remote call fails with EXECUTOR_UNAVAILABLE.
func (h *Hub) Resolve(sessionID string) (*tools.Registry, tools.RemoteExecutor) {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	if s, ok := h.Session(sessionID); ok {
		return s.Registry(), s
	}
	s := h.newSession(sessionID)
	return s.Registry(), s
}

// Sessions lists all known sessions sorted by id.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.Lock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// ConnectedCount returns the number of sessions with a live connection.
func (h *Hub) ConnectedCount() int {
	n := 0
	for _, info := range h.Sessions() {
		if info.Connected {
			n++
		}
	}
	return n
}

// Handler upgrades requests to websocket connections and serves them.
// sessionOf picks the session id; an empty id maps to DefaultSessionID.
func (h *Hub) Handler(sessionOf func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionOf(r)
		if sessionID == "" {
			sessionID = DefaultSessionID
		}
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins})
		if err != nil {
			h.logger.Warn("websocket accept failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		ws.SetReadLimit(8 << 20)
		if err := h.Serve(r.Context(), sessionID, NewWSConn(ws)); err != nil {
			h.logger.Debug("executor connection ended", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
}

// Serve runs one executor connection until it closes, is superseded or ctx ends.
// The first message must be a handshake.
func (h *Hub) Serve(ctx context.Context, sessionID string, conn Conn) error {
	log := h.logger.With(zap.String("session_id", sessionID))

	hsCtx, cancelHS := context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
	data, err := conn.Read(hsCtx)
	cancelHS()
	if err != nil {
		h.record(EventRejected)
		_ = conn.Close("handshake timeout")
		return err
	}
	in, err := Decode(data)
	if err != nil || in.Kind != InboundHandshake {
		h.record(EventRejected)
		_ = conn.Close("handshake required")
		return errors.New("first message was not a handshake")
	}

	session, err := h.acceptCatalog(sessionID, in.Handshake.Tools)
	if err != nil {
		log.Warn("executor tool catalog rejected", zap.Error(err))
		h.record(EventRejected)
		_ = conn.Close("invalid tool catalog")
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lc := &liveConn{
		id:          uuid.NewString(),
		conn:        conn,
		client:      in.Handshake.Client,
		version:     in.Handshake.Version,
		connectedAt: time.Now(),
		cancel:      cancel,
	}
	lc.corr = NewCorrelator(conn.Write, h.cfg.CommandTimeout, h.metrics, log)

	if prev := session.attach(lc); prev != nil {
		log.Info("executor connection superseded", zap.String("previous_client", prev.client))
		h.record(EventSuperseded)
		prev.corr.Close(types.NewError(types.ErrExecutorGone, "executor connection superseded"))
		prev.cancel()
		_ = prev.conn.Close("superseded by a newer connection")
	}
	h.record(EventConnected)
	log.Info("executor connected",
		zap.String("connection_id", lc.id),
		zap.String("client", lc.client),
		zap.String("version", lc.version),
		zap.Int("tools", len(session.registry.List())))

	if err := h.ack(connCtx, conn); err != nil {
		h.disconnect(session, lc, log)
		return err
	}

	if h.cfg.PingInterval > 0 {
		go h.keepAlive(connCtx, lc, log)
	}

	err = h.readLoop(connCtx, session, lc, log)
	h.disconnect(session, lc, log)
	return err
}

func (h *Hub) readLoop(ctx context.Context, session *Session, lc *liveConn, log *zap.Logger) error {
	for {
		data, err := lc.conn.Read(ctx)
		if err != nil {
			return err
		}
		in, err := Decode(data)
		if err != nil {
			log.Warn("malformed executor message", zap.Error(err))
			continue
		}
		switch in.Kind {
		case InboundReply:
			lc.corr.Deliver(in.Reply)
		case InboundHandshake:
			if err := session.applyCatalog(in.Handshake.Tools); err != nil {
				log.Warn("invalid tool catalog in repeated handshake", zap.Error(err))
				continue
			}
			if err := h.ack(ctx, lc.conn); err != nil {
				return err
			}
		case InboundPing:
			if err := lc.conn.Write(ctx, encodePong()); err != nil {
				return err
			}
		case InboundPong:
		case InboundUncorrelated:
			log.Debug("executor message without commandId ignored", zap.String("type", in.Reply.Type))
		}
	}
}

func (h *Hub) keepAlive(ctx context.Context, lc *liveConn, log *zap.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.cfg.PingInterval)
			err := lc.conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Warn("executor ping failed", zap.Error(err))
				lc.cancel()
				return
			}
		}
	}
}

func (h *Hub) ack(ctx context.Context, conn Conn) error {
	data, err := encodeAck(h.cfg.ServerName, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return conn.Write(ctx, data)
}

func (h *Hub) disconnect(session *Session, lc *liveConn, log *zap.Logger) {
	lc.cancel()
	failed := lc.corr.Close(types.NewError(types.ErrExecutorGone, "executor disconnected"))
	_ = lc.conn.Close("bye")
	if session.detach(lc) {
		h.record(EventDisconnected)
		log.Info("executor disconnected", zap.Int("failed_commands", failed))
	}
}

// Close disconnects every live executor.
func (h *Hub) Close() {
	h.mu.Lock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.Unlock()
	for _, s := range list {
		if lc := s.current(); lc != nil {
			lc.cancel()
		}
	}
}

func (h *Hub) record(event string) {
	if h.metrics != nil {
		h.metrics.RecordExecutorConnection(event)
	}
}

// liveConn is one accepted executor connection.
type liveConn struct {
	id          string
	conn        Conn
	corr        *Correlator
	client      string
	version     string
	connectedAt time.Time
	cancel      context.CancelFunc
}

// Session is the per-user executor slot. Its registry persists across reconnects;
// the remote portion is replaced by every handshake.
type Session struct {
	id       string
	registry *tools.Registry

	mu   sync.RWMutex
	live *liveConn
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Registry returns the session's tool registry.
func (s *Session) Registry() *tools.Registry { return s.registry }

// Connected reports whether an executor is attached.
func (s *Session) Connected() bool { return s.current() != nil }

// Execute implements tools.RemoteExecutor over the current connection.
func (s *Session) Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	lc := s.current()
	if lc == nil {
		return types.ToolCallResult{}, types.Errorf(types.ErrExecutorUnavailable, "no executor connected for session %s", s.id)
	}
	return lc.corr.Execute(ctx, req)
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		SessionID:      s.id,
		Tools:          len(s.registry.List()),
		CatalogVersion: s.registry.RemoteVersion(),
	}
	if lc := s.current(); lc != nil {
		info.Connected = true
		info.Client = lc.client
		info.Version = lc.version
		info.ConnectedAt = lc.connectedAt
		info.PendingCalls = lc.corr.Pending()
	}
	return info
}

func (s *Session) applyCatalog(reported []types.ToolDefinition) error {
	if len(reported) == 0 {
		reported = tools.DefaultRemoteCatalog()
	}
	return s.registry.ReplaceRemote(reported)
}

func (s *Session) current() *liveConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

func (s *Session) attach(lc *liveConn) *liveConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.live
	s.live = lc
	return prev
}

// detach clears the slot only if lc is still the current connection.
func (s *Session) detach(lc *liveConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != lc {
		return false
	}
	s.live = nil
	return true
}
