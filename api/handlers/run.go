package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/agent/persistence"
	"github.com/BaSui01/agentrelay/agent/remote"
	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🏃 Run Handler
// =============================================================================

// Runner starts top-level invocations. *agent.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*types.ExecutionLog, error)
}

// RunReader reads finalized runs. *persistence.GormRunStore implements it.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*types.ExecutionLog, error)
	ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*types.ExecutionLog, error)
}

// maxListLimit 列表接口单次返回上限
const maxListLimit = 500

// RunHandler starts runs and reads them back.
type RunHandler struct {
	runner Runner
	runs   RunReader
	logger *zap.Logger
}

// NewRunHandler creates a run handler. runs may be nil when no database is
// configured; the read endpoints then answer 503.
func NewRunHandler(runner Runner, runs RunReader, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		runner: runner,
		runs:   runs,
		logger: logger.With(zap.String("handler", "run")),
	}
}

// HandleStartRun runs one invocation synchronously
// @Summary Start run
// @Description Run an agent on a task and return the finalized execution log.
// @Description A run that ended in status "error" is returned with the log in data.
// @Tags run
// @Accept json
// @Produce json
// @Param request body api.StartRunRequest true "Run request"
// @Success 200 {object} Response{data=types.ExecutionLog} "Finalized run"
// @Failure 400 {object} Response "Invalid request"
// @Failure 404 {object} Response "Agent not found"
// @Failure 502 {object} Response "Provider failure"
// @Failure 503 {object} Response "Executor unavailable"
// @Security BearerAuth
// @Router /api/v1/runs [post]
func (h *RunHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	sessionID := req.SessionID
	// 认证令牌中的会话优先，调用方只能驱动自己的执行器
	if claimed, ok := types.SessionID(r.Context()); ok {
		sessionID = claimed
	}
	if sessionID == "" {
		sessionID = remote.DefaultSessionID
	}

	log, err := h.runner.Run(r.Context(), agent.RunRequest{
		AgentID:   req.AgentID,
		Task:      req.Task,
		SessionID: sessionID,
	})
	if err != nil {
		apiErr := toAPIError(err)
		if log != nil {
			writeError(w, apiErr, log, h.logger)
			return
		}
		WriteError(w, apiErr, h.logger)
		return
	}

	WriteSuccess(w, log)
}

// HandleGetRun returns a stored run
// @Summary Get run
// @Tags run
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} Response{data=types.ExecutionLog} "Stored run"
// @Failure 404 {object} Response "Run not found"
// @Failure 503 {object} Response "Run store disabled"
// @Security BearerAuth
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if !h.storeEnabled(w) {
		return
	}
	runID := pathID(r, "/api/v1/runs/")
	if runID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", h.logger)
		return
	}

	log, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, persistence.ErrNotFound) {
		WriteError(w, types.Errorf(types.ErrRunNotFound, "run %s not found", runID), h.logger)
		return
	}
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	WriteSuccess(w, log)
}

// HandleListRuns lists stored runs, newest first
// @Summary List runs
// @Tags run
// @Produce json
// @Param agent_id query string false "Filter by agent"
// @Param session_id query string false "Filter by session"
// @Param status query string false "Filter by status"
// @Param limit query int false "Maximum number of runs (default 50)"
// @Success 200 {object} Response{data=[]api.RunSummary} "Runs"
// @Security BearerAuth
// @Router /api/v1/runs [get]
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.storeEnabled(w) {
		return
	}
	q := r.URL.Query()
	filter := persistence.RunFilter{
		AgentID:   q.Get("agent_id"),
		SessionID: q.Get("session_id"),
		Status:    types.Status(q.Get("status")),
		Limit:     50,
	}
	if claimed, ok := types.SessionID(r.Context()); ok {
		filter.SessionID = claimed
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	logs, err := h.runs.ListRuns(r.Context(), filter)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	result := make([]api.RunSummary, 0, len(logs))
	for _, log := range logs {
		result = append(result, api.NewRunSummary(log))
	}
	WriteSuccess(w, result)
}

func (h *RunHandler) storeEnabled(w http.ResponseWriter) bool {
	if h.runs == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrInternalError, "run store is not configured", h.logger)
		return false
	}
	return true
}
