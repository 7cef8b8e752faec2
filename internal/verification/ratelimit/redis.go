// Package ratelimit bounds public verification lookups per anonymized
// source with a Redis fixed-window counter.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedis(client *redis.Client, limit int64, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window}
}

// Allow counts the request against the source's current window. The limiter
// fails open: if Redis is unreachable the lookup proceeds, since blocking
// legitimate verifiers is worse than briefly losing the scrape shield.
func (r *Redis) Allow(ctx context.Context, source string) (bool, error) {
	key := "cachet:ratelimit:verify:" + source

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return count.Val() <= r.limit, nil
}
