// Package store hides where queue entries live: a networked Redis list store
// or an in-process map used as fallback when Redis is unreachable.
package store

import (
	"context"
	"time"
)

// Store is the capability set the queue layer needs from a backing store.
// All list operations are FIFO per key: Pop returns the oldest entry pushed
// under that key. Pop on an empty or missing key returns (nil, nil); that is
// a normal outcome, not an error.
type Store interface {
	// Push appends one payload under the key and refreshes the key's TTL.
	Push(ctx context.Context, key string, payload []byte) error

	// PushMulti appends the payloads under the key as one atomic commit and
	// refreshes the key's TTL. Either every payload lands or none does.
	PushMulti(ctx context.Context, key string, payloads [][]byte) error

	// Pop removes and returns the oldest payload under the key, or nil when
	// the key is empty.
	Pop(ctx context.Context, key string) ([]byte, error)

	// Len returns the number of payloads under the key.
	Len(ctx context.Context, key string) (int64, error)

	// SetTTL sets the key's time-to-live.
	SetTTL(ctx context.Context, key string, ttl time.Duration) error

	// Ping performs a lightweight liveness round-trip.
	Ping(ctx context.Context) error

	// Keys returns every key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Entries returns every payload under the key, oldest first, without
	// removing anything.
	Entries(ctx context.Context, key string) ([][]byte, error)

	// Replace atomically swaps the key's contents for the given payloads,
	// oldest first. An empty slice removes the key.
	Replace(ctx context.Context, key string, payloads [][]byte) error

	// Remove deletes the key and everything under it.
	Remove(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}
