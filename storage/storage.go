// Package storage defines the key-value interface used to persist encrypted
// credentials, pending authorization state, and staged credentials.
// It supports in-memory and Redis backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("storage: key not found")

// KV is a namespaced key-value store with per-entry TTL.
//
// All durable broker state lives behind this interface, keyed per user or
// per token, so the broker itself stays stateless and horizontally scalable.
// Writes for the same key are last-write-wins; no compare-and-swap is
// assumed. All methods accept context.Context for tracing and cancellation.
type KV interface {
	// Get retrieves the value stored under key.
	// Returns ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// GetAndDelete atomically retrieves and removes the value under key.
	// Returns ErrNotFound if the key is absent or expired. Single-use
	// tokens (state tokens, staged credentials) rely on this being atomic
	// so that a replayed lookup fails.
	GetAndDelete(ctx context.Context, key string) ([]byte, error)
}
