package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/types"
)

// CatalogStore persists agent definitions. Reads satisfy agent.Catalog, so any
// store can back the engine directly.
type CatalogStore interface {
	Store
	agent.Catalog

	// Save creates or replaces an agent. Replacing a locked agent fails with ErrLocked.
	Save(ctx context.Context, def *types.AgentDefinition) error

	// Delete removes an agent. Locked agents fail with ErrLocked.
	Delete(ctx context.Context, id string) error
}

// notFound carries both AGENT_NOT_FOUND for the engine and ErrNotFound for errors.Is.
func notFound(id string) error {
	return types.Errorf(types.ErrAgentNotFound, "agent %s not found", id).WithCause(ErrNotFound)
}

// prepareSave validates def and returns the copy to store, stamping timestamps.
// existing is the stored version, nil when creating.
func prepareSave(def, existing *types.AgentDefinition) (*types.AgentDefinition, error) {
	if def == nil {
		return nil, ErrInvalidInput
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if existing != nil && existing.IsLocked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, def.ID)
	}

	c := def.Clone()
	now := time.Now().UTC()
	if existing != nil {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return c, nil
}

func checkDelete(existing *types.AgentDefinition) error {
	if existing.IsLocked {
		return fmt.Errorf("%w: %s", ErrLocked, existing.ID)
	}
	return nil
}

func sortByID(defs []*types.AgentDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}

// Seed writes presets into store when it holds no agents yet. It reports how
// many agents were written.
func Seed(ctx context.Context, store CatalogStore, presets []*types.AgentDefinition) (int, error) {
	existing, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list agents: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	var errs []error
	n := 0
	for _, def := range presets {
		if err := store.Save(ctx, def); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", def.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// NewCatalogStore creates a catalog store based on the configuration and seeds
// it with the built-in agents when config.Seed is set.
func NewCatalogStore(ctx context.Context, config StoreConfig) (CatalogStore, error) {
	var (
		store CatalogStore
		err   error
	)
	switch StoreType(strings.ToLower(string(config.Type))) {
	case StoreTypeMemory, "":
		store = NewMemoryCatalogStore()
	case StoreTypeFile:
		store, err = NewFileCatalogStore(config.Path)
	case StoreTypeRedis:
		store, err = NewRedisCatalogStore(config.Redis)
	default:
		return nil, fmt.Errorf("unsupported catalog store type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	if config.Seed {
		if _, err := Seed(ctx, store, agent.Presets()); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

var (
	_ CatalogStore      = (*MemoryCatalogStore)(nil)
	_ CatalogStore      = (*FileCatalogStore)(nil)
	_ CatalogStore      = (*RedisCatalogStore)(nil)
	_ agent.RunRecorder = (*GormRunStore)(nil)
)
