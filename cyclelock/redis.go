/*
Package cyclelock serializes payout cycles across server instances with Redis.

PURPOSE:
  Two schedulers (or a scheduler and an operator) running the same tenant and
  period at once would both generate and both settle. The unique payout index
  already stops duplicate payouts, but the second run still burns a full scan
  and races the first for row locks. The lock makes the second caller fail
  fast with payout.ErrCycleInProgress.

PROTOCOL:
  Acquire: SET key token NX PX ttl
  Release: delete the key only if it still holds our token (Lua compare-and-del)

  The TTL bounds how long a crashed holder blocks the key. It must exceed the
  longest expected cycle.

SEE ALSO:
  - payout/cycle.go: CycleLock interface and lock key
*/
package cyclelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/warp/sacco-engine/payout"
)

// DefaultTTL is used when New is given a non-positive ttl.
const DefaultTTL = 15 * time.Minute

// ErrLockLost is returned by release when the key expired or was taken over.
var ErrLockLost = errors.New("cycle lock no longer held")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLock implements payout.CycleLock.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration

	// NewToken identifies this holder; defaults to a random uuid.
	NewToken func() string
}

func New(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLock{client: client, ttl: ttl, NewToken: uuid.NewString}
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// Acquire takes key for the lock's TTL.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := l.NewToken()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire cycle lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", payout.ErrCycleInProgress, key)
	}

	release := func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
		if err != nil {
			return fmt.Errorf("release cycle lock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrLockLost, key)
		}
		return nil
	}
	return release, nil
}

var _ payout.CycleLock = (*RedisLock)(nil)
