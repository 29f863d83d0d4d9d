package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// bucketGrace keeps expired counters around briefly so late requests in
// a finished window still see the final count.
const bucketGrace = 10 * time.Second

// RedisCounterStore is a fixed-window counter on Redis INCR. Each
// increment is atomic, so concurrent callers observe distinct counts
// and at most limit of them are admitted per window.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a Redis-backed counter store
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// IncrementBucket increments the window counter and reports whether the
// request fit under the limit. The counter expires shortly after
// windowEnd.
func (s *RedisCounterStore) IncrementBucket(ctx context.Context, keyID uuid.UUID, windowStart, windowEnd time.Time, limit int) (int, bool, error) {
	key := fmt.Sprintf("quota:%s:%d", keyID, windowStart.Unix())

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("rate limit increment failed: %w", err)
	}

	if count == 1 {
		// First hit in the window owns setting the expiry.
		ttl := time.Until(windowEnd) + bucketGrace
		if ttl < bucketGrace {
			ttl = bucketGrace
		}
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, false, fmt.Errorf("rate limit expire failed: %w", err)
		}
	}

	if count > int64(limit) {
		return limit, false, nil
	}
	return int(count), true, nil
}

// CurrentCount returns the counter value for a window, 0 when unset
func (s *RedisCounterStore) CurrentCount(ctx context.Context, keyID uuid.UUID, windowStart time.Time) (int, error) {
	key := fmt.Sprintf("quota:%s:%d", keyID, windowStart.Unix())

	count, err := s.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit read failed: %w", err)
	}

	return count, nil
}
