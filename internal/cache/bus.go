package cache

import (
	"context"
	"errors"
	"time"
)

// Loader computes a value on cache miss. It runs at most once per Get
// call and its result, on success, is stored under the requested key.
type Loader func(ctx context.Context) ([]byte, error)

// Bus is a tag-keyed cache with explicit invalidation. It knows
// nothing about the domain: entries live under (tag, key), expire by
// TTL, and die immediately when their tag is invalidated.
//
// Entries outlive their TTL by a bounded grace period for
// stale-while-error: when a recompute fails, the expired copy is
// served instead of the failure. Explicitly invalidated entries are
// dropped outright and never served stale.
type Bus interface {
	// Get returns the cached value for (tag, key), or runs load and
	// caches its result for ttl. A load failure inside the grace
	// period falls back to the stale copy; otherwise the load error is
	// returned as-is.
	Get(ctx context.Context, tag, key string, ttl time.Duration, load Loader) ([]byte, error)

	// Invalidate marks every entry under tag stale immediately.
	Invalidate(ctx context.Context, tag string) error

	Close() error
}

// ErrCacheDisabled is returned when cache operations are attempted but
// the backing store is not configured.
var ErrCacheDisabled = errors.New("cache is disabled")

// entryKey builds the storage key for a (tag, key) pair.
func entryKey(tag, key string) string {
	return tag + "/" + key
}
