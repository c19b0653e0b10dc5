package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateStore persists the last fetched rate table. Load returns nil, nil
// when nothing is stored.
type RateStore interface {
	Load(ctx context.Context) (*Rates, error)
	Save(ctx context.Context, r *Rates) error
}

// MemoryStore keeps the table in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rates *Rates
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(ctx context.Context) (*Rates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rates == nil {
		return nil, nil
	}
	return s.rates.clone(s.rates.Source), nil
}

func (s *MemoryStore) Save(ctx context.Context, r *Rates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = r.clone(r.Source)
	return nil
}

// DefaultRedisKey is where RedisStore keeps the table.
const DefaultRedisKey = "centace:currency:rates"

// RedisStore shares the table between service instances. Entries outlive
// the TTL so they can still serve as stale fallback.
type RedisStore struct {
	client    *redis.Client
	key       string
	retention time.Duration
}

// NewRedisStore creates a store. retention bounds how long a table is kept.
func NewRedisStore(client *redis.Client, key string, retention time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, key: key, retention: retention}
}

func (s *RedisStore) Load(ctx context.Context) (*Rates, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	var r Rates
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	return &r, nil
}

func (s *RedisStore) Save(ctx context.Context, r *Rates) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rates: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, s.retention).Err(); err != nil {
		return fmt.Errorf("save rates: %w", err)
	}
	return nil
}
