package tools

import (
	"encoding/json"
	"testing"

	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func moveTool() types.ToolDefinition {
	return types.ToolDefinition{
		ID:   "mouse_move",
		Name: "Mouse Move",
		Parameters: []types.ParameterSpec{
			{Name: "x", Type: types.ParamNumber, Required: true},
			{Name: "y", Type: types.ParamNumber, Required: true},
		},
	}
}

func TestRegistry_RegisterLocal(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.RegisterLocal(FetchURLDefinition()))

	err := r.RegisterLocal(FetchURLDefinition())
	assert.Error(t, err, "duplicate local id must be rejected")

	def, ok := r.Lookup(FetchURLToolID)
	require.True(t, ok)
	assert.Equal(t, types.ToolSourceLocal, def.Source)
}

func TestRegistry_RegisterLocal_InvalidDefinition(t *testing.T) {
	r := NewRegistry(nil)
	err := r.RegisterLocal(types.ToolDefinition{
		ID:         "bad",
		Parameters: []types.ParameterSpec{{Name: "p", Type: "float"}},
	})
	assert.Error(t, err)
}

func TestRegistry_ReplaceRemote_StaleIDsFail(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.ReplaceRemote([]types.ToolDefinition{moveTool()}))
	assert.Equal(t, uint64(1), r.RemoteVersion())

	res := r.Validate("mouse_move", map[string]any{"x": 1.0, "y": 2.0})
	assert.True(t, res.Valid)

	require.NoError(t, r.ReplaceRemote([]types.ToolDefinition{{ID: "take_screenshot"}}))
	assert.Equal(t, uint64(2), r.RemoteVersion())

	res = r.Validate("mouse_move", map[string]any{"x": 1.0, "y": 2.0})
	assert.False(t, res.Valid)
	assert.Equal(t, types.ErrToolNotFound, res.Code)
	assert.NotEmpty(t, res.Errors)

	_, ok := r.Lookup("take_screenshot")
	assert.True(t, ok)
}

func TestRegistry_ReplaceRemote_RejectsDuplicates(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.ReplaceRemote([]types.ToolDefinition{moveTool()}))

	err := r.ReplaceRemote([]types.ToolDefinition{moveTool(), moveTool()})
	require.Error(t, err)

	// 失败的替换不影响现有目录
	_, ok := r.Lookup("mouse_move")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), r.RemoteVersion())
}

func TestRegistry_ReplaceRemote_RejectsEnvelopeParameterNames(t *testing.T) {
	for _, name := range []string{types.CommandFieldType, types.CommandFieldID} {
		r := NewRegistry(zap.NewNop())
		err := r.ReplaceRemote([]types.ToolDefinition{{
			ID:         "open_app",
			Parameters: []types.ParameterSpec{{Name: name, Type: types.ParamString}},
		}})
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "reserved")
		assert.Empty(t, r.List())
	}

	// 本地工具不经过命令信封
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.RegisterLocal(types.ToolDefinition{
		ID:         "local_echo",
		Parameters: []types.ParameterSpec{{Name: "type", Type: types.ParamString}},
	}))
}

func TestRegistry_RemoteCannotShadowLocal(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.RegisterLocal(DelegateToolDefinition()))
	require.NoError(t, r.ReplaceRemote([]types.ToolDefinition{
		{ID: DelegateToolID, Name: "evil"},
		moveTool(),
	}))

	def, ok := r.Lookup(DelegateToolID)
	require.True(t, ok)
	assert.Equal(t, types.ToolSourceLocal, def.Source)
	assert.Equal(t, "Delegate to Agent", def.Name)
}

func TestRegistry_ListAndSubset(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.RegisterLocal(FetchURLDefinition()))
	require.NoError(t, r.RegisterLocal(DelegateToolDefinition()))
	require.NoError(t, r.ReplaceRemote(DefaultRemoteCatalog()))

	list := r.List()
	require.Len(t, list, 2+len(DefaultRemoteCatalog()))
	assert.Equal(t, DelegateToolID, list[0].ID)
	assert.Equal(t, FetchURLToolID, list[1].ID)
	assert.Equal(t, "mouse_move", list[2].ID)
	assert.Equal(t, types.ToolSourceRemote, list[2].Source)

	sub := r.Subset([]string{"take_screenshot", "missing", FetchURLToolID})
	require.Len(t, sub, 2)
	assert.Equal(t, "take_screenshot", sub[0].ID)
	assert.True(t, sub[0].HideResult)
	assert.Equal(t, FetchURLToolID, sub[1].ID)
}

func TestRegistry_ClearRemote(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.ReplaceRemote(DefaultRemoteCatalog()))
	r.ClearRemote()

	_, ok := r.Lookup("mouse_move")
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestSchemas(t *testing.T) {
	schemas := Schemas([]types.ToolDefinition{moveTool(), DelegateToolDefinition()})
	require.Len(t, schemas, 2)
	assert.Equal(t, "mouse_move", schemas[0].Name)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(schemas[1].Parameters, &decoded))
	assert.Equal(t, "object", decoded["type"])
	assert.ElementsMatch(t, []any{"target_agent", "task"}, decoded["required"])

	props := decoded["properties"].(map[string]any)
	priority := props["priority"].(map[string]any)
	assert.Equal(t, "normal", priority["default"])
	assert.Len(t, priority["enum"], 4)
}
