// Package lock provides the cross-process single-flight guard for migration runs.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX PX lock with token-checked release
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger logrus.FieldLogger
}

// Handle is a held lock
type Handle struct {
	lock  *RedisLock
	token string
}

// NewRedisLock creates a lock on key; ttl bounds how long a crashed holder blocks others
func NewRedisLock(client *redis.Client, key string, ttl time.Duration, logger logrus.FieldLogger) *RedisLock {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisLock{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.WithField("component", "redis_lock"),
	}
}

// NewClient creates a Redis client from connection parameters
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// TryAcquire takes the lock without waiting
// Returns (nil, nil) when another holder has it.
func (l *RedisLock) TryAcquire(ctx context.Context) (*Handle, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock acquire failed for key %s: %w", l.key, err)
	}
	if !ok {
		l.logger.WithField("key", l.key).Debug("lock held elsewhere")
		return nil, nil
	}

	l.logger.WithFields(logrus.Fields{"key": l.key, "ttl": l.ttl}).Debug("lock acquired")
	return &Handle{lock: l, token: token}, nil
}

// TryLock takes the lock for a migration run. A lock held elsewhere fails
// with RunInProgress; the returned func releases it.
func (l *RedisLock) TryLock(ctx context.Context) (func(context.Context) error, error) {
	h, err := l.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if h == nil {
		holder, _ := l.Holder(ctx)
		return nil, errors.RunInProgress("migration lock %s held by another process", l.key).
			WithContext("holder", holder)
	}
	return h.Release, nil
}

// Holder returns the token of the current holder, empty when free
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	token, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed for key %s: %w", l.key, err)
	}
	return token, nil
}

// Close closes the Redis client
func (l *RedisLock) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// Release frees the lock if this handle still owns it
func (h *Handle) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, h.lock.client, []string{h.lock.key}, h.token).Int()
	if err != nil {
		return fmt.Errorf("redis lock release failed for key %s: %w", h.lock.key, err)
	}
	if n == 0 {
		h.lock.logger.WithField("key", h.lock.key).Warn("lock expired before release")
	}
	return nil
}

// Token identifies this holder
func (h *Handle) Token() string {
	return h.token
}
