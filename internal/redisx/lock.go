package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a SET NX PX advisory lock. The TTL bounds how long a crashed
// holder can block the next sweep.
type Lock struct{ R *redis.Client }

func (l *Lock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.R.SetNX(ctx, key, "1", ttl).Result()
}

func (l *Lock) Unlock(ctx context.Context, key string) error {
	return l.R.Del(ctx, key).Err()
}
