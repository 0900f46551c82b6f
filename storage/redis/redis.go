// Package redis provides a Redis-backed implementation of the storage.KV
// interface for multi-instance deployments. Entry expiry is delegated to
// Redis TTLs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edutools/mcp-canvas/storage"
)

// Store is a Redis-backed storage.KV.
type Store struct {
	client redis.UniversalClient
}

var _ storage.KV = (*Store)(nil)

// New creates a new Redis-backed store from an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Get retrieves the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores value under key with an optional TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// GetAndDelete atomically retrieves and removes the value under key.
// GETDEL is a single Redis command, so concurrent callers cannot both
// observe the same single-use token.
func (s *Store) GetAndDelete(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	return value, nil
}
