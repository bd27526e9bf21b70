package metrics

import (
	"strconv"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 同时实现 agent.RunMetrics、agent.EventMetrics、tools.ToolMetrics 与 remote.Metrics。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Run 指标
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runSteps     *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	eventDropped *prometheus.CounterVec

	// 工具指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// 执行器指标
	remoteCommandsTotal   *prometheus.CounterVec
	remoteCommandDuration *prometheus.HistogramVec
	executorConnections   *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	factory   promauto.Factory
	namespace string
	logger    *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	c := &Collector{
		factory:   f,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Run 指标
	c.runsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finalized agent invocations",
		},
		[]string{"agent_id", "status", "reason"},
	)

	c.runDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Agent invocation duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"agent_id"},
	)

	c.runSteps = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_steps",
			Help:      "Number of reasoning steps per invocation",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20, 50, 100},
		},
		[]string{"agent_id"},
	)

	c.stepsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of reasoning steps started",
		},
		[]string{"agent_id"},
	)

	c.eventDropped = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full",
		},
		[]string{"type"},
	)

	// 工具指标
	c.toolCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of dispatched tool calls",
		},
		[]string{"tool_id", "source", "success"}, // source: local, remote
	)

	c.toolCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tool_id", "source"},
	)

	// 执行器指标
	c.remoteCommandsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_total",
			Help:      "Commands sent to executors by outcome",
		},
		[]string{"tool_id", "outcome"},
	)

	c.remoteCommandDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_command_duration_seconds",
			Help:      "Executor command round-trip time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool_id"},
	)

	c.executorConnections = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_connections_total",
			Help:      "Executor connection lifecycle events",
		},
		[]string{"event"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// ObserveExecutors 注册当前已连接执行器数量的 gauge
func (c *Collector) ObserveExecutors(connected func() int) {
	c.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "executors_connected",
			Help:      "Number of connected executors",
		},
		func() float64 { return float64(connected()) },
	)
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🎭 Run 指标记录
// =============================================================================

// RecordRun 记录一次完成的调用
func (c *Collector) RecordRun(agentID string, status types.Status, reason types.TerminationReason, steps int, duration time.Duration) {
	c.runsTotal.WithLabelValues(agentID, string(status), string(reason)).Inc()
	c.runDuration.WithLabelValues(agentID).Observe(duration.Seconds())
	c.runSteps.WithLabelValues(agentID).Observe(float64(steps))
}

// RecordStep 记录一个推理步骤
func (c *Collector) RecordStep(agentID string) {
	c.stepsTotal.WithLabelValues(agentID).Inc()
}

// RecordEventDropped 记录被丢弃的事件
func (c *Collector) RecordEventDropped(eventType string) {
	c.eventDropped.WithLabelValues(eventType).Inc()
}

// =============================================================================
// 🔧 工具与执行器指标记录
// =============================================================================

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(toolID, source string, success bool, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(toolID, source, strconv.FormatBool(success)).Inc()
	c.toolCallDuration.WithLabelValues(toolID, source).Observe(duration.Seconds())
}

// RecordRemoteCommand 记录执行器命令结果
func (c *Collector) RecordRemoteCommand(toolID, outcome string, duration time.Duration) {
	c.remoteCommandsTotal.WithLabelValues(toolID, outcome).Inc()
	c.remoteCommandDuration.WithLabelValues(toolID).Observe(duration.Seconds())
}

// RecordExecutorConnection 记录执行器连接事件
func (c *Collector) RecordExecutorConnection(event string) {
	c.executorConnections.WithLabelValues(event).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
