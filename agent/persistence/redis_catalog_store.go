package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"github.com/redis/go-redis/v9"
)

// RedisCatalogStore is a Redis-based implementation of CatalogStore.
// Agents are stored as JSON strings with a sorted set of ids for listing.
type RedisCatalogStore struct {
	client    *redis.Client
	keyPrefix string
	ownClient bool
}

// NewRedisCatalogStore connects to Redis and checks the connection.
func NewRedisCatalogStore(config RedisStoreConfig) (*RedisCatalogStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisCatalogStoreWithClient(client, config.KeyPrefix)
	store.ownClient = true
	return store, nil
}

// NewRedisCatalogStoreWithClient uses an existing client. Close leaves the
// client open.
func NewRedisCatalogStoreWithClient(client *redis.Client, keyPrefix string) *RedisCatalogStore {
	if keyPrefix == "" {
		keyPrefix = "agentrelay:"
	}
	return &RedisCatalogStore{client: client, keyPrefix: keyPrefix + "agent:"}
}

// Close closes the store
func (s *RedisCatalogStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

// Ping checks if the store is healthy
func (s *RedisCatalogStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCatalogStore) agentKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisCatalogStore) indexKey() string {
	return s.keyPrefix + "ids"
}

// Get retrieves an agent by id.
func (s *RedisCatalogStore) Get(ctx context.Context, id string) (*types.AgentDefinition, error) {
	data, err := s.client.Get(ctx, s.agentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}

	var def types.AgentDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return &def, nil
}

// List returns all agents ordered by id. Index entries whose data is gone are skipped.
func (s *RedisCatalogStore) List(ctx context.Context) ([]*types.AgentDefinition, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
	}
	if len(ids) == 0 {
		return []*types.AgentDefinition{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.agentKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	out := make([]*types.AgentDefinition, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var def types.AgentDefinition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("decode agent %s: %w", ids[i], err)
		}
		out = append(out, &def)
	}
	sortByID(out)
	return out, nil
}

// Save creates or replaces an agent.
func (s *RedisCatalogStore) Save(ctx context.Context, def *types.AgentDefinition) error {
	if def == nil {
		return ErrInvalidInput
	}
	existing, err := s.Get(ctx, def.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	c, err := prepareSave(def, existing)
	if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.agentKey(c.ID), data, 0)
	// 分数相同，ZRANGE 按 id 字典序返回
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: c.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes an agent.
func (s *RedisCatalogStore) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := checkDelete(existing); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.agentKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	_, err = pipe.Exec(ctx)
	return err
}
