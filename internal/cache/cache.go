// Package cache is a small get/set-with-TTL abstraction so callers take the
// store as a dependency instead of reaching for a process-global map.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns the value and whether the key was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
