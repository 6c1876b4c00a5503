package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker backed by Redis SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// NewRedisLocker creates a locker that namespaces keys under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "evalflow"
	}
	return &RedisLocker{client: client, prefix: prefix, logger: logger.With(zap.String("component", "redis_locker"))}
}

func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	full := fmt.Sprintf("%s:lock:%s", r.prefix, key)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{r: r, key: full, token: token, ttl: ttl}, nil
}

type redisLease struct {
	r     *RedisLocker
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

func (l *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.r.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *redisLease) Release() {
	l.once.Do(func() {
		// 释放不受调用方 ctx 取消影响
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.r.client, []string{l.key}, l.token).Err(); err != nil {
			l.r.logger.Warn("lock release failed", zap.String("key", l.key), zap.Error(err))
		}
	})
}
