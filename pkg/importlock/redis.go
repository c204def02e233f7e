package importlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL bounds how long a crashed import can wedge a user. A healthy
// pipeline releases well before this.
const DefaultLockTTL = 10 * time.Minute

// RedisLocker coordinates the import lock across instances using SET NX with
// a TTL as the crash safety net.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(userID string) string {
	return fmt.Sprintf("import-lock:%s", userID)
}

func (l *RedisLocker) TryAcquire(ctx context.Context, userID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(userID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring import lock for %s: %w", userID, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, userID string) error {
	if err := l.client.Del(ctx, lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("releasing import lock for %s: %w", userID, err)
	}
	return nil
}
