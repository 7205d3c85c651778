// Package persist saves bills to a string-keyed store so a session survives a
// restart.
package persist

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a KV when the key holds nothing.
var ErrNotFound = errors.New("record not found")

// KV is a minimal string store. Implementations may fail at any time (full
// disk, lost connection); callers decide how much that matters.
type KV interface {
	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing what was there.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the underlying connection or file.
	Close() error
}
