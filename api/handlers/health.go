package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/agent/remote"
	"github.com/BaSui01/agentrelay/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 存活与就绪探针
// =============================================================================
// /health 与 /healthz 只说明进程在处理 HTTP；/ready 并行执行全部检查，
// 任一失败（包括没有执行器在线）即返回 503。
// =============================================================================

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	checkPass       = "pass"
	checkFail       = "fail"

	defaultReadyTimeout = 5 * time.Second
)

// HealthCheck is one readiness dependency.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// Reporter is implemented by checks that attach state to their result,
// whether or not the check passed.
type Reporter interface {
	Report() any
}

// HealthStatus is the body of the health and readiness responses.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

// HealthHandler serves the liveness, readiness and version endpoints.
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler creates a handler with no readiness checks.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: defaultReadyTimeout,
	}
}

// RegisterCheck adds a readiness check.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleLive 存活探针，不执行任何检查
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus "Process is serving"
// @Router /health [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: statusHealthy, Timestamp: time.Now()})
}

// HandleReady 就绪探针
// @Summary Readiness check
// @Description Runs every registered check; fails while no executor is connected
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus "Ready"
// @Failure 503 {object} HealthStatus "Not ready"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status == checkFail {
			status.Status = statusUnhealthy
		}
	}

	code := http.StatusOK
	if status.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: checkPass, Latency: latency.String()}
	if rep, ok := check.(Reporter); ok {
		res.Detail = rep.Report()
	}
	if err != nil {
		res.Status = checkFail
		res.Message = err.Error()
		h.logger.Warn("readiness check failed",
			zap.String("check", check.Name()),
			zap.Duration("latency", latency),
			zap.Error(err))
	}
	return res
}

// HandleVersion returns build information
// @Summary Version
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string "Build info"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// PingCheck adapts a ping function (catalog store, database) to HealthCheck.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck creates a ping check.
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// ExecutorCheck fails while no executor session has a live connection.
// Its report lists every session with its tool catalog state.
type ExecutorCheck struct {
	hub SessionLister
}

// NewExecutorCheck creates the executor readiness check.
func NewExecutorCheck(hub SessionLister) *ExecutorCheck {
	return &ExecutorCheck{hub: hub}
}

func (c *ExecutorCheck) Name() string { return "executors" }

func (c *ExecutorCheck) Check(context.Context) error {
	if summarizeSessions(c.hub.Sessions()).Connected == 0 {
		return errors.New("no executor connected")
	}
	return nil
}

// Report returns the executor sessions, as served by /api/v1/executors.
func (c *ExecutorCheck) Report() any {
	return summarizeSessions(c.hub.Sessions())
}

func summarizeSessions(sessions []remote.SessionInfo) api.ExecutorListResponse {
	resp := api.ExecutorListResponse{Sessions: sessions}
	for _, s := range sessions {
		if s.Connected {
			resp.Connected++
		}
	}
	return resp
}
