// Package lock holds Redis leases that keep one process at a time inside a
// critical section such as the overdue sweep.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix  = "lock:"
	defaultTTL = 30 * time.Second
)

var (
	errNoClient = errors.New("lock: redis client not configured")
	errNoFunc   = errors.New("lock: callback not provided")
)

// Only the owner token may extend or drop a lease.
var (
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)
)

// Locker hands out leases stored under "lock:<key>". While a callback runs
// the lease is extended every RenewEvery (ttl/3 when zero) so long sweeps do
// not lose it halfway.
type Locker struct {
	R          redis.UniversalClient
	RenewEvery time.Duration
}

// TryWithLock runs fn only if the lease is free right now and reports whether
// it ran. A held lease is not an error. The lease is dropped when fn returns.
func (l Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if l.R == nil {
		return false, errNoClient
	}
	if fn == nil {
		return false, errNoFunc
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	name := keyPrefix + key
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, name, token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(ctx, name, token, ttl, stop)
	}()
	defer func() {
		close(stop)
		<-done
		if err := releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{name}, token).Err(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("lock", key).Msg("lock release failed")
		}
	}()
	return true, fn(ctx)
}

func (l Locker) keepAlive(ctx context.Context, name, token string, ttl time.Duration, stop <-chan struct{}) {
	every := l.RenewEvery
	if every <= 0 || every >= ttl {
		every = max(ttl/3, time.Millisecond)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.R, []string{name}, token, ttl.Milliseconds()).Int()
			if err != nil || n == 0 {
				zerolog.Ctx(ctx).Warn().Err(err).Str("lock", name).Msg("lock lease lost")
				return
			}
		}
	}
}
