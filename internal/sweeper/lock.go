package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process owns the lock
var ErrLockHeld = errors.New("lock already held by another process")

// Locker grants a named lock for at most ttl. The returned release func
// frees it only if this holder still owns it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker is a single-instance Redis lock (SET NX with an owner token)
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("release lock %s: lock expired or taken over", key)
		}
		return nil
	}
	return release, nil
}

// LocalLocker is used when no Redis is configured. It only excludes
// concurrent runs inside this process.
type LocalLocker struct {
	held chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(chan struct{}, 1)}
}

func (l *LocalLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	select {
	case l.held <- struct{}{}:
	default:
		return nil, ErrLockHeld
	}
	return func(context.Context) error {
		<-l.held
		return nil
	}, nil
}
