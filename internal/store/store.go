package store

import (
	"context"
	"time"
)

// Store is the shared, TTL-capable key/value store behind cache entries and leases.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value and whether the key was found.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value with the given time to live. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteIfEquals removes key only while it still holds value.
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
	Close() error
}
