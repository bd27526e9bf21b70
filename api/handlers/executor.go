package handlers

import (
	"net/http"

	"github.com/BaSui01/agentrelay/agent/remote"
	"go.uber.org/zap"
)

// SessionLister reports executor sessions. *remote.Hub implements it.
type SessionLister interface {
	Sessions() []remote.SessionInfo
}

// ExecutorHandler 执行器会话查询
type ExecutorHandler struct {
	hub    SessionLister
	logger *zap.Logger
}

// NewExecutorHandler creates an executor handler.
func NewExecutorHandler(hub SessionLister, logger *zap.Logger) *ExecutorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutorHandler{hub: hub, logger: logger.With(zap.String("handler", "executor"))}
}

// HandleListExecutors lists executor sessions
// @Summary List executor sessions
// @Tags executor
// @Produce json
// @Success 200 {object} Response{data=api.ExecutorListResponse} "Sessions"
// @Security BearerAuth
// @Router /api/v1/executors [get]
func (h *ExecutorHandler) HandleListExecutors(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, summarizeSessions(h.hub.Sessions()))
}
