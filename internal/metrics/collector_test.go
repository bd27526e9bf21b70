package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/agent/remote"
	"github.com/BaSui01/agentrelay/llm/tools"
	"github.com/BaSui01/agentrelay/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// 编译期检查
var (
	_ agent.RunMetrics   = (*Collector)(nil)
	_ agent.EventMetrics = (*Collector)(nil)
	_ tools.ToolMetrics  = (*Collector)(nil)
	_ remote.Metrics     = (*Collector)(nil)
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector, _ := newTestCollector(t)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.runsTotal)
	assert.NotNil(t, collector.toolCallsTotal)
	assert.NotNil(t, collector.remoteCommandsTotal)
	assert.NotNil(t, collector.executorConnections)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// 同一命名空间注册到不同 registry 不应冲突
	assert.NotPanics(t, func() {
		NewCollector("dup", prometheus.NewRegistry(), nil)
		NewCollector("dup", prometheus.NewRegistry(), nil)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/api/v1/agents", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/api/v1/agents", 204, 50*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/api/v1/runs", 503, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/agents", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/runs", "5xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestDuration))
}

func TestCollector_RecordRun(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordStep("web-agent")
	collector.RecordStep("web-agent")
	collector.RecordRun("web-agent", types.StatusSuccess, types.ReasonModelConcluded, 2, 3*time.Second)
	collector.RecordRun("web-agent", types.StatusIncomplete, types.ReasonMaxIterations, 10, 20*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("web-agent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("web-agent", "success", "model_concluded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("web-agent", "incomplete", "max_iterations")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.runSteps))
}

func TestCollector_RecordToolCall(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordToolCall("fetch_url", "local", true, 120*time.Millisecond)
	collector.RecordToolCall("open_app", "remote", false, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("fetch_url", "local", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("open_app", "remote", "false")))
}

func TestCollector_ExecutorMetrics(t *testing.T) {
	collector, reg := newTestCollector(t)

	collector.RecordRemoteCommand("open_app", "ok", 30*time.Millisecond)
	collector.RecordRemoteCommand("open_app", "timeout", 30*time.Second)
	collector.RecordExecutorConnection(remote.EventConnected)
	collector.RecordExecutorConnection(remote.EventDisconnected)

	connected := 3
	collector.ObserveExecutors(func() int { return connected })

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.remoteCommandsTotal.WithLabelValues("open_app", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.executorConnections.WithLabelValues("connected")))

	expected := `
# HELP test_executors_connected Number of connected executors
# TYPE test_executors_connected gauge
test_executors_connected 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_executors_connected"))
}

func TestCollector_RecordEventDropped(t *testing.T) {
	collector, _ := newTestCollector(t)

	// 缓冲为 1 的订阅者，第二个事件被丢弃
	em := agent.NewEmitter(1, collector, zap.NewNop())
	sub := em.Subscribe(nil)
	defer em.Unsubscribe(sub)

	em.Emit(agent.Event{Type: agent.EventThought, RunID: "r1"})
	em.Emit(agent.Event{Type: agent.EventThought, RunID: "r1"})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.eventDropped.WithLabelValues(string(agent.EventThought))))
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordDBConnections("runs", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("runs")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("runs")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond)
			collector.RecordToolCall("fetch_url", "local", true, time.Millisecond)
			collector.RecordStep("root")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("fetch_url", "local", "true")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("root")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{502, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
