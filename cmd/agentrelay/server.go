package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/agent/persistence"
	"github.com/BaSui01/agentrelay/agent/remote"
	"github.com/BaSui01/agentrelay/agent/streaming"
	"github.com/BaSui01/agentrelay/api/handlers"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/database"
	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/internal/server"
	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/internal/tlsutil"
	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/llm/providers/anthropic"
	"github.com/BaSui01/agentrelay/llm/providers/openaicompat"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// skipAuthPaths 不需要认证的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// dbStatsInterval 连接池指标采样间隔
const dbStatsInterval = 15 * time.Second

// Server 是 AgentRelay 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector

	emitter  *agent.Emitter
	hub      *remote.Hub
	catalog  persistence.CatalogStore
	db       *database.PoolManager
	runStore *persistence.GormRunStore
	engine   *agent.Engine
	observer *streaming.Observer

	health *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建并装配所有组件。ctx 只用于初始化阶段（目录播种、数据库连接）。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (s *Server, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s = &Server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	// 1. 遥测与指标
	s.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, tracing disabled", zap.Error(err))
		s.telemetry = &telemetry.Providers{}
		err = nil
	}
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("agentrelay", s.registry, logger)

	// 2. 事件与执行器
	s.emitter = agent.NewEmitter(cfg.Server.EventBuffer, s.collector, logger)

	localTools := []types.ToolDefinition{tools.DelegateToolDefinition(), tools.FetchURLDefinition()}
	s.hub = remote.NewHub(remote.HubConfig{
		ServerName:       cfg.Executor.ServerName,
		CommandTimeout:   cfg.Executor.CommandTimeout,
		HandshakeTimeout: cfg.Executor.HandshakeTimeout,
		PingInterval:     cfg.Executor.PingInterval,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	}, localTools, s.collector, logger)
	s.collector.ObserveExecutors(s.hub.ConnectedCount)

	// 3. 工具分发
	dispatcher, err := newDispatcher(cfg, localTools, logger)
	if err != nil {
		return nil, err
	}
	dispatcher.WithMetrics(s.collector)

	// 4. LLM Provider
	provider, err := newProvider(cfg.LLM, cfg.Agent, logger)
	if err != nil {
		return nil, err
	}

	// 5. 存储
	s.catalog, err = persistence.NewCatalogStore(ctx, catalogStoreConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	if cfg.Database.Enabled {
		if err = s.openRunStore(cfg.Database); err != nil {
			return nil, err
		}
	}

	// 6. 引擎
	opts := []agent.EngineOption{
		agent.WithEmitter(s.emitter),
		agent.WithRunMetrics(s.collector),
		agent.WithTracer(s.telemetry.Tracer()),
	}
	if s.runStore != nil {
		opts = append(opts, agent.WithRunRecorder(s.runStore))
	}
	s.engine = agent.NewEngine(engineConfig(cfg.Agent), provider, s.catalog, dispatcher, s.hub, logger, opts...)

	s.observer = streaming.NewObserver(s.emitter, streaming.ObserverConfig{
		PingInterval:   cfg.Server.ObserverPingInterval,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	// 7. 健康检查
	s.health = handlers.NewHealthHandler(logger)
	s.health.RegisterCheck(handlers.NewPingCheck("catalog", s.catalog.Ping))
	if s.db != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	}
	s.health.RegisterCheck(handlers.NewExecutorCheck(s.hub))

	// 8. HTTP 服务器
	s.buildServers(ctx)

	logger.Info("Server assembled",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("catalog", cfg.Catalog.Type),
		zap.Bool("run_store", s.runStore != nil),
		zap.Bool("auth", cfg.Auth.Enabled),
		zap.Bool("tls", cfg.Server.TLSCertFile != ""),
	)
	return s, nil
}

func (s *Server) openRunStore(dbCfg config.DatabaseConfig) error {
	pool := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	pool.HealthCheckInterval = dbCfg.HealthCheckInterval

	db, err := database.Open(dbCfg.Driver, dbCfg.DSN(), pool, s.logger)
	if err != nil {
		return fmt.Errorf("open run store database: %w", err)
	}
	s.db = db

	s.runStore, err = persistence.NewGormRunStore(db.DB(), s.logger)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	return nil
}

// =============================================================================
// 🔧 组件构造
// =============================================================================

func newDispatcher(cfg *config.Config, localTools []types.ToolDefinition, logger *zap.Logger) (*tools.Dispatcher, error) {
	registry := tools.NewRegistry(logger)
	for _, def := range localTools {
		if err := registry.RegisterLocal(def); err != nil {
			return nil, fmt.Errorf("register %s: %w", def.ID, err)
		}
	}

	limits := make(map[string]tools.RateLimit, len(cfg.Tools.RateLimits))
	for id, rl := range cfg.Tools.RateLimits {
		limits[id] = tools.RateLimit{PerSecond: rl.PerSecond, Burst: rl.Burst}
	}

	d := tools.NewDispatcher(tools.DispatcherConfig{
		ExecutorRetries: cfg.Executor.Retries,
		RetryBackoff:    cfg.Executor.RetryBackoff,
		LocalTimeout:    cfg.Tools.LocalTimeout,
		RateLimits:      limits,
	}, registry, nil, logger)

	fetch := tools.NewFetchTool(tools.FetchConfig{
		MaxContentLength: cfg.Tools.FetchMaxContent,
		Timeout:          cfg.Tools.FetchTimeout,
		UserAgent:        cfg.Tools.FetchUserAgent,
	}, tlsutil.FetchClient(tlsutil.FetchOptions{
		Timeout:      cfg.Tools.FetchTimeout,
		MaxRedirects: cfg.Tools.FetchMaxRedirects,
		AllowPrivate: cfg.Tools.FetchAllowPrivate,
	}), logger)
	// 单次抓取由 timeout_seconds 参数控制，这里只兜底
	d.Handle(tools.FetchURLToolID, fetch.Handle, cfg.Tools.FetchTimeout+5*time.Second)
	return d, nil
}

func newProvider(cfg config.LLMConfig, agentCfg config.AgentConfig, logger *zap.Logger) (llm.Provider, error) {
	var inner llm.Provider
	switch cfg.Provider {
	case "anthropic":
		if cfg.TextToolCalls {
			logger.Warn("text_tool_calls is ignored for the anthropic provider")
		}
		inner = anthropic.New(anthropic.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    int64(agentCfg.MaxTokens),
			Timeout:      cfg.Timeout,
		}, logger)
	case "openai":
		name := cfg.Name
		if name == "" {
			name = "openai"
		}
		pc := openaicompat.Config{
			ProviderName: name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}
		if cfg.TextToolCalls {
			native := false
			pc.SupportsTools = &native
		}
		inner = openaicompat.New(pc, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	return llm.NewRetryableProvider(inner, retry, logger), nil
}

func catalogStoreConfig(cfg *config.Config) persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(cfg.Catalog.Type),
		Path: cfg.Catalog.Path,
		Redis: persistence.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Catalog.KeyPrefix,
		},
		Seed: cfg.Catalog.Seed,
	}
}

func engineConfig(cfg config.AgentConfig) agent.Config {
	return agent.Config{
		DefaultMaxIterations:   cfg.DefaultMaxIterations,
		DelegatedMaxIterations: cfg.DelegatedMaxIterations,
		MaxDelegationDepth:     cfg.MaxDelegationDepth,
		RootAgentID:            cfg.RootAgentID,
		RepeatThreshold:        cfg.RepeatThreshold,
		StopOnError:            cfg.StopOnError,
		ObservationMaxChars:    cfg.ObservationMaxChars,
		CompletionPhrases:      cfg.CompletionPhrases,
		Temperature:            float32(cfg.Temperature),
		MaxTokens:              cfg.MaxTokens,
	}
}

// timeoutRunner bounds every top-level run.
type timeoutRunner struct {
	engine  *agent.Engine
	timeout time.Duration
}

func (r timeoutRunner) Run(ctx context.Context, req agent.RunRequest) (*types.ExecutionLog, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.engine.Run(ctx, req)
}

// =============================================================================
// 🌐 路由与服务器
// =============================================================================

// sessionOf picks the executor session of a WebSocket request. With auth
// enabled only the token claim counts.
func (s *Server) sessionOf(r *http.Request) string {
	if id, ok := types.SessionID(r.Context()); ok {
		return id
	}
	if s.cfg.Auth.Enabled {
		return ""
	}
	return r.URL.Query().Get("session_id")
}

// Handler returns the API handler with the full middleware chain.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleLive)
	mux.HandleFunc("GET /healthz", s.health.HandleLive)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	var runs handlers.RunReader
	if s.runStore != nil {
		runs = s.runStore
	}
	runHandler := handlers.NewRunHandler(timeoutRunner{engine: s.engine, timeout: s.cfg.Agent.RunTimeout}, runs, s.logger)
	agentHandler := handlers.NewAgentHandler(s.catalog, s.logger)
	executorHandler := handlers.NewExecutorHandler(s.hub, s.logger)

	mux.HandleFunc("GET /api/v1/agents", agentHandler.HandleListAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", agentHandler.HandleGetAgent)
	mux.HandleFunc("POST /api/v1/runs", runHandler.HandleStartRun)
	mux.HandleFunc("GET /api/v1/runs", runHandler.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", runHandler.HandleGetRun)
	mux.HandleFunc("GET /api/v1/executors", executorHandler.HandleListExecutors)

	mux.Handle("GET /ws/executor", s.hub.Handler(s.sessionOf))
	mux.Handle("GET /ws/events", s.observer.Handler(s.sessionOf))

	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(s.telemetry.Tracer()),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.AllowedOrigins),
	}
	if s.cfg.Auth.Enabled {
		chain = append(chain, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	chain = append(chain, SessionRateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	return Chain(mux, chain...)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *Server) buildServers(ctx context.Context) {
	sc := s.cfg.Server
	httpCfg := server.DefaultConfig()
	httpCfg.Addr = fmt.Sprintf(":%d", sc.HTTPPort)
	if sc.ReadTimeout > 0 {
		httpCfg.ReadTimeout = sc.ReadTimeout
	}
	if sc.WriteTimeout > 0 {
		httpCfg.WriteTimeout = sc.WriteTimeout
	}
	if sc.ShutdownTimeout > 0 {
		httpCfg.ShutdownTimeout = sc.ShutdownTimeout
	}
	httpCfg.TLSCertFile = sc.TLSCertFile
	httpCfg.TLSKeyFile = sc.TLSKeyFile

	s.httpManager = server.NewManager(s.Handler(ctx), httpCfg, s.logger)
	// 观察者订阅随 Emitter 关闭而结束，Shutdown 才不会等待长连接
	s.httpManager.RegisterOnShutdown(s.emitter.Close)
	s.httpManager.RegisterOnShutdown(s.hub.Close)

	if sc.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metricsHandler())
		metricsCfg := server.DefaultConfig()
		metricsCfg.Name = "metrics"
		metricsCfg.Addr = fmt.Sprintf(":%d", sc.MetricsPort)
		metricsCfg.WriteTimeout = 30 * time.Second
		s.metricsManager = server.NewManager(mux, metricsCfg, s.logger)
	}
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run serves until ctx is cancelled or a server fails, then releases every
// component.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}
	if s.db != nil {
		g.Go(func() error {
			s.pollDBStats(gctx)
			return nil
		})
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))

	err := g.Wait()
	s.close(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) pollDBStats(ctx context.Context) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		stats := s.db.GetStats()
		s.collector.RecordDBConnections(s.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// close releases components in reverse construction order. Safe to call on a
// partially built server.
func (s *Server) close(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")
	if s.emitter != nil {
		s.emitter.Close()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			s.logger.Error("Catalog store close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}
	s.logger.Info("Graceful shutdown completed")
}
