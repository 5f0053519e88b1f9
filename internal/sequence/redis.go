package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "clinicqueue:counter:"

// RedisCounter uses INCR, which creates the key at zero and increments it in
// one server-side step, so concurrent replicas never observe the same value.
type RedisCounter struct {
	client redis.Cmdable
}

// NewRedisCounter wraps a go-redis client.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	if client == nil {
		panic("sequence: redis client required")
	}
	return &RedisCounter{client: client}
}

// Increment issues INCR on the day key. Counter keys carry no TTL; they double
// as the audit record of how many numbers a day issued.
func (c *RedisCounter) Increment(ctx context.Context, dateKey string) (int64, error) {
	seq, err := c.client.Incr(ctx, redisKeyPrefix+dateKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: redis incr: %v", ErrAllocation, err)
	}
	return seq, nil
}
