package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/agent/persistence"
	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 AgentHandler 测试
// =============================================================================

func seededCatalog(t *testing.T) *persistence.MemoryCatalogStore {
	t.Helper()
	store := persistence.NewMemoryCatalogStore()
	_, err := persistence.Seed(context.Background(), store, agent.Presets())
	require.NoError(t, err)
	return store
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

func TestAgentHandler_HandleListAgents(t *testing.T) {
	handler := NewAgentHandler(seededCatalog(t), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	handler.HandleListAgents(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var agents []api.AgentInfo
	resp := decodeResponse(t, w, &agents)
	assert.True(t, resp.Success)
	require.Len(t, agents, 6)
	// 按 ID 排序
	assert.Equal(t, agent.CodeAssistantAgentID, agents[0].ID)
	assert.Equal(t, agent.DesktopAutomationAgentID, agents[2].ID)
	assert.Contains(t, agents[2].Tools, "mouse_move")
	assert.True(t, agents[2].IsLocked)
}

func TestAgentHandler_HandleListAgentsEmpty(t *testing.T) {
	handler := NewAgentHandler(persistence.NewMemoryCatalogStore(), nil)

	w := httptest.NewRecorder()
	handler.HandleListAgents(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	var agents []api.AgentInfo
	decodeResponse(t, w, &agents)
	assert.Empty(t, agents)
}

func TestAgentHandler_HandleGetAgent(t *testing.T) {
	handler := NewAgentHandler(seededCatalog(t), zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/agents/{id}", handler.HandleGetAgent)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/web-research-agent", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var info api.AgentInfo
		decodeResponse(t, w, &info)
		assert.Equal(t, "web-research-agent", info.ID)
		assert.Equal(t, []string{"fetch_url"}, info.Tools)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/ghost", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		resp := decodeResponse(t, w, nil)
		assert.False(t, resp.Success)
		assert.Equal(t, string(types.ErrAgentNotFound), resp.Error.Code)
	})
}

func TestAgentHandler_HandleGetAgentWithoutMux(t *testing.T) {
	handler := NewAgentHandler(seededCatalog(t), zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleGetAgent(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/orchestrator-agent", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.HandleGetAgent(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
