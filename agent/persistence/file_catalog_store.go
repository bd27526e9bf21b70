package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BaSui01/agentrelay/types"
	"gopkg.in/yaml.v3"
)

// catalogDocument is the on-disk layout of a file catalog.
type catalogDocument struct {
	Agents []*types.AgentDefinition `json:"agents" yaml:"agents"`
}

// FileCatalogStore keeps the catalog in one YAML or JSON document.
// 适合单节点部署；每次修改整体重写文件.
type FileCatalogStore struct {
	path   string
	asJSON bool
	agents map[string]*types.AgentDefinition // in-memory cache
	mu     sync.RWMutex
	closed bool
}

// NewFileCatalogStore opens the catalog at path, creating its directory. A
// missing file is an empty catalog.
func NewFileCatalogStore(path string) (*FileCatalogStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: catalog path is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	store := &FileCatalogStore{
		path:   path,
		asJSON: strings.EqualFold(filepath.Ext(path), ".json"),
		agents: make(map[string]*types.AgentDefinition),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load catalog from %s: %w", path, err)
	}
	return store, nil
}

func (s *FileCatalogStore) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc catalogDocument
	if s.asJSON {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return err
	}
	for _, def := range doc.Agents {
		if def == nil {
			continue
		}
		if err := def.Validate(); err != nil {
			return err
		}
		if _, dup := s.agents[def.ID]; dup {
			return fmt.Errorf("duplicate agent id %s", def.ID)
		}
		s.agents[def.ID] = def
	}
	return nil
}

// saveToDisk 原子写: 写入临时文件后重命名
func (s *FileCatalogStore) saveToDisk() error {
	doc := catalogDocument{Agents: make([]*types.AgentDefinition, 0, len(s.agents))}
	for _, def := range s.agents {
		doc.Agents = append(doc.Agents, def)
	}
	sortByID(doc.Agents)

	var (
		data []byte
		err  error
	)
	if s.asJSON {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return err
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.path)
}

// Close closes the store
func (s *FileCatalogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *FileCatalogStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns a copy of the agent.
func (s *FileCatalogStore) Get(ctx context.Context, id string) (*types.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	def, ok := s.agents[id]
	if !ok {
		return nil, notFound(id)
	}
	return def.Clone(), nil
}

// List returns copies of all agents ordered by id.
func (s *FileCatalogStore) List(ctx context.Context) ([]*types.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*types.AgentDefinition, 0, len(s.agents))
	for _, def := range s.agents {
		out = append(out, def.Clone())
	}
	sortByID(out)
	return out, nil
}

// Save creates or replaces an agent and rewrites the document.
func (s *FileCatalogStore) Save(ctx context.Context, def *types.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	var existing *types.AgentDefinition
	if def != nil {
		existing = s.agents[def.ID]
	}
	c, err := prepareSave(def, existing)
	if err != nil {
		return err
	}
	s.agents[c.ID] = c
	if err := s.saveToDisk(); err != nil {
		// 写盘失败时回滚缓存
		if existing != nil {
			s.agents[c.ID] = existing
		} else {
			delete(s.agents, c.ID)
		}
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return nil
}

// Delete removes an agent and rewrites the document.
func (s *FileCatalogStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	existing, ok := s.agents[id]
	if !ok {
		return notFound(id)
	}
	if err := checkDelete(existing); err != nil {
		return err
	}
	delete(s.agents, id)
	if err := s.saveToDisk(); err != nil {
		s.agents[id] = existing
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return nil
}
