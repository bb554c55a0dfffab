package port

import "context"

// KVStore backs the durable cache tier.
type KVStore interface {
	// Get returns the raw value for key, false if it does not exist
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key without an expiry; the cache layer tracks expiry itself
	Set(ctx context.Context, key, value string) error

	// Delete removes keys, missing keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// Keys lists all keys starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
}
