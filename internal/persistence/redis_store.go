// Copyright 2025 James Ross
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the optional Redis-backed Store, for deployments that want
// the snapshot reachable from outside the router's own filesystem. This is
// a convenience alternate backend only — it does not make window state
// cross-node-consistent (§1 Non-goals still hold: no cross-node consensus).
type RedisStore struct {
	Client *redis.Client
	Key    string
}

// NewRedisStore returns a Redis-backed Store at key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{Client: client, Key: key}
}

// Load reads the snapshot from a single Redis string key.
func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	b, err := s.Client.Get(ctx, s.Key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: redis get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("persistence: snapshot corrupt: %w", err)
	}
	return &snap, nil
}

// Save writes the snapshot to a single Redis string key with no expiry.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	return s.Client.Set(ctx, s.Key, b, 0).Err()
}
