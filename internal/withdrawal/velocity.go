package withdrawal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// VelocityTracker counts recent withdrawal requests per pharmacy. It is a
// cross-process signal feeding the risk evaluator; the repository history
// remains the source of truth when the tracker is unavailable.
type VelocityTracker interface {
	// Record registers a new request and returns the count inside the
	// current window, including this one.
	Record(ctx context.Context, pharmacyID string) (int, error)
	// Count returns the current window count without recording.
	Count(ctx context.Context, pharmacyID string) (int, error)
}

// velocityRecordScript atomically increments the window counter and ensures
// a TTL exists, so crashed processes cannot leak counters.
var velocityRecordScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = window_ms (int)
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
else
  if redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
  end
end
return current
`)

// RedisVelocity implements VelocityTracker on Redis.
type RedisVelocity struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisVelocity(rdb *redis.Client, window time.Duration) *RedisVelocity {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RedisVelocity{rdb: rdb, window: window}
}

func velocityKey(pharmacyID string) string {
	return "withdrawals:velocity:" + pharmacyID
}

func (v *RedisVelocity) Record(ctx context.Context, pharmacyID string) (int, error) {
	if v.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	if pharmacyID == "" {
		return 0, fmt.Errorf("pharmacy id is required")
	}
	n, err := velocityRecordScript.Run(ctx, v.rdb, []string{velocityKey(pharmacyID)}, v.window.Milliseconds()).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (v *RedisVelocity) Count(ctx context.Context, pharmacyID string) (int, error) {
	if v.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := v.rdb.Get(ctx, velocityKey(pharmacyID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
