package cachemirror

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// DistributedLock coordinates a single in-flight miss per cache key across
// ragd replicas, the multi-process equivalent of semanticcache.Cache's
// in-process singleflight. A nil DistributedLock (the default when the
// cache mirror isn't Redis-backed) disables cross-replica coordination;
// each replica then only coalesces its own concurrent misses.
type DistributedLock interface {
	// TryLock attempts to claim key for at most ttl. ok is false if
	// another replica already holds it; unlock releases the claim and
	// must be called only when ok is true.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool)
}

// RedisLock is a DistributedLock backed by the Redlock algorithm (spec
// §4.5 step 2 extended to a multi-replica deployment), grounded on the
// teacher's CacheService.NewMutex(name, ...redsync.Option) method, whose
// redsync.Mutex return type is declared in the teacher's cache interface
// but never implemented by a concrete cache service anywhere in the
// retrieved source. This is that method's first working implementation.
type RedisLock struct {
	rs *redsync.Redsync
}

// NewRedisLock builds a RedisLock against the same Redis connection the
// cache mirror uses.
func NewRedisLock(client *goredislib.Client) *RedisLock {
	pool := goredis.NewPool(client)
	return &RedisLock{rs: redsync.New(pool)}
}

func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	mutex := l.rs.NewMutex(lockKeyPrefix+key, redsync.WithExpiry(ttl))
	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, false
	}
	return func() { mutex.UnlockContext(ctx) }, true
}

const lockKeyPrefix = "ragd:lock:"
