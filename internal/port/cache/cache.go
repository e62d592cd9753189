// Package cache defines the key-value cache port used for project root
// lookups.
package cache

import (
	"context"
	"time"
)

// Cache stores small byte values under string keys. A Set that returns nil
// must be visible to the next Get; a missing key is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
