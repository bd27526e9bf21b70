package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// remoteCatalog 远程执行器上报的一份完整工具目录；只整体替换，从不原地修改
type remoteCatalog struct {
	version uint64
	order   []string
	tools   map[string]types.ToolDefinition
}

// Registry holds the engine-internal tools plus the catalog reported by the
// remote executor. The remote portion is swapped atomically by ReplaceRemote,
// so ids from a previous catalog stop resolving the moment a new one lands.
type Registry struct {
	mu     sync.RWMutex
	local  map[string]types.ToolDefinition
	remote atomic.Pointer[remoteCatalog]
	logger *zap.Logger
}

// NewRegistry 创建工具注册表，remote 部分初始为空。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		local:  make(map[string]types.ToolDefinition),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
	r.remote.Store(&remoteCatalog{tools: map[string]types.ToolDefinition{}})
	return r
}

// RegisterLocal adds an engine-internal tool. Ids must be unique.
func (r *Registry) RegisterLocal(def types.ToolDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def.Source = types.ToolSourceLocal

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.local[def.ID]; exists {
		return fmt.Errorf("tool %s already registered", def.ID)
	}
	r.local[def.ID] = def
	r.logger.Debug("tool registered", zap.String("tool_id", def.ID), zap.String("source", string(def.Source)))
	return nil
}

// ReplaceRemote swaps the remote-sourced catalog wholesale.
// Entries whose id collides with a local tool are skipped.
func (r *Registry) ReplaceRemote(catalog []types.ToolDefinition) error {
	next := &remoteCatalog{
		order: make([]string, 0, len(catalog)),
		tools: make(map[string]types.ToolDefinition, len(catalog)),
	}
	r.mu.RLock()
	for _, def := range catalog {
		if err := def.ValidateRemote(); err != nil {
			r.mu.RUnlock()
			return fmt.Errorf("invalid remote catalog: %w", err)
		}
		if _, dup := next.tools[def.ID]; dup {
			r.mu.RUnlock()
			return fmt.Errorf("invalid remote catalog: duplicate tool id %s", def.ID)
		}
		if _, shadow := r.local[def.ID]; shadow {
			r.logger.Warn("remote tool shadows local tool, skipped", zap.String("tool_id", def.ID))
			continue
		}
		def.Source = types.ToolSourceRemote
		next.tools[def.ID] = def
		next.order = append(next.order, def.ID)
	}
	r.mu.RUnlock()

	for {
		prev := r.remote.Load()
		next.version = prev.version + 1
		if r.remote.CompareAndSwap(prev, next) {
			break
		}
	}
	r.logger.Info("remote catalog replaced",
		zap.Int("tools", len(next.order)),
		zap.Uint64("version", next.version))
	return nil
}

// ClearRemote drops the remote catalog.
func (r *Registry) ClearRemote() {
	_ = r.ReplaceRemote(nil)
}

// RemoteVersion increments on every ReplaceRemote.
func (r *Registry) RemoteVersion() uint64 {
	return r.remote.Load().version
}

// Lookup resolves a tool id, local tools first.
func (r *Registry) Lookup(id string) (types.ToolDefinition, bool) {
	r.mu.RLock()
	def, ok := r.local[id]
	r.mu.RUnlock()
	if ok {
		return def, true
	}
	def, ok = r.remote.Load().tools[id]
	return def, ok
}

// List returns local tools sorted by id followed by remote tools in reported order.
func (r *Registry) List() []types.ToolDefinition {
	r.mu.RLock()
	out := make([]types.ToolDefinition, 0, len(r.local))
	for _, def := range r.local {
		out = append(out, def)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	cat := r.remote.Load()
	for _, id := range cat.order {
		out = append(out, cat.tools[id])
	}
	return out
}

// Subset returns the definitions of ids in the given order, skipping unknown ids.
func (r *Registry) Subset(ids []string) []types.ToolDefinition {
	out := make([]types.ToolDefinition, 0, len(ids))
	for _, id := range ids {
		if def, ok := r.Lookup(id); ok {
			out = append(out, def)
		}
	}
	return out
}

// Validate checks args against the catalog entry for id.
// An unknown id is an invalid result with code TOOL_NOT_FOUND, not an error.
func (r *Registry) Validate(id string, args map[string]any) ValidationResult {
	def, ok := r.Lookup(id)
	if !ok {
		return ValidationResult{
			Valid:  false,
			Code:   types.ErrToolNotFound,
			Errors: []string{fmt.Sprintf("tool not found: %s", id)},
		}
	}
	return ValidateArguments(def, args)
}

// Schemas converts definitions into provider tool schemas.
func Schemas(defs []types.ToolDefinition) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(defs))
	for _, def := range defs {
		params, err := json.Marshal(def.Schema())
		if err != nil {
			continue
		}
		out = append(out, llm.ToolSchema{
			Name:        def.ID,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return out
}
