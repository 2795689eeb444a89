// Package store defines the backend storage contract for durable eviction
// report history.
//
// The Store interface abstracts the one thing eviction/reportstore needs
// from a backend: a capped, most-recent-first list. The primary
// implementation is redis.Store (in store/redis), backed by
// redis.UniversalClient (standalone Redis, Redis Cluster, or Redis
// Sentinel). A memory.Store (in store/memory) is provided for tests and
// single-process deployments that don't need distributed state.
package store

import "context"

// Store abstracts the backend a reportstore.Store appends to.
// Implementations must be safe for concurrent use.
type Store interface {
	// LPush prepends one or more values to the list at key, returning the
	// list's length after the push.
	LPush(ctx context.Context, key string, values ...string) (int64, error)

	// LTrim trims the list at key to the inclusive range [start, stop],
	// using Redis's negative-index convention (-1 is the last element).
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange returns list elements in the inclusive range [start, stop].
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
