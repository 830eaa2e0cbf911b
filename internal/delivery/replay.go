package delivery

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayProtector guards against sending duplicate deliveries within a TTL.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplay implements ReplayProtector with SetNX semantics.
type RedisReplay struct {
	R      *redis.Client
	Prefix string
}

func (r RedisReplay) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.R == nil {
		return true, nil
	}
	return r.R.SetNX(ctx, r.Prefix+key, "1", ttl).Result()
}

func (r RedisReplay) Release(ctx context.Context, key string) error {
	if r.R == nil {
		return nil
	}
	return r.R.Del(ctx, r.Prefix+key).Err()
}
