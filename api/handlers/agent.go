package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// =============================================================================
// Agent Catalog Handler
// =============================================================================

// AgentHandler serves the read side of the agent catalog.
type AgentHandler struct {
	catalog agent.Catalog
	logger  *zap.Logger
}

// NewAgentHandler creates an Agent handler
func NewAgentHandler(catalog agent.Catalog, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		catalog: catalog,
		logger:  logger.With(zap.String("handler", "agent")),
	}
}

// HandleListAgents lists the catalog
// @Summary List agents
// @Description Get every agent in the catalog, ordered by id
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=[]api.AgentInfo} "Agent list"
// @Failure 500 {object} Response "Internal error"
// @Security BearerAuth
// @Router /api/v1/agents [get]
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	defs, err := h.catalog.List(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	result := make([]api.AgentInfo, 0, len(defs))
	for _, def := range defs {
		result = append(result, api.NewAgentInfo(def))
	}

	WriteSuccess(w, result)
}

// HandleGetAgent gets one agent
// @Summary Get agent
// @Description Get one catalog entry
// @Tags agent
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} Response{data=api.AgentInfo} "Agent info"
// @Failure 404 {object} Response "Agent not found"
// @Security BearerAuth
// @Router /api/v1/agents/{id} [get]
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := pathID(r, "/api/v1/agents/")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent ID is required", h.logger)
		return
	}

	def, err := h.catalog.Get(r.Context(), agentID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.NewAgentInfo(def))
}

// pathID returns the {id} path value, falling back to the trailing segment
// after prefix when the request was not routed through a pattern.
func pathID(r *http.Request, prefix string) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	rest, ok := strings.CutPrefix(r.URL.Path, prefix)
	if !ok || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
