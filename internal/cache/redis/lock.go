package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftline/riskbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's
// unique token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends a lock's TTL only while the caller still holds it.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaderLock guards single-instance operation: only one engine process
// may hold the trading lock at a time. Implemented with SETNX plus a TTL
// and Lua-based conditional renewal and unlock.
type LeaderLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	renewSc  *redis.Script
}

// NewLeaderLock creates a LeaderLock backed by the given Client.
func NewLeaderLock(c *Client) *LeaderLock {
	return &LeaderLock{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		renewSc:  redis.NewScript(renewLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain the lock for key with the specified TTL. On
// success it returns a release function that is safe to call multiple
// times. It returns domain.ErrLockHeld if another process holds the
// lock.
func (l *LeaderLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Use a background context so release succeeds even if the
		// caller's context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
	}

	return release, nil
}

// Hold acquires the lock and keeps renewing it every ttl/3 until the
// context is cancelled or the returned release function is called. A
// crashed process frees the lock once the TTL lapses.
func (l *LeaderLock) Hold(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = l.renewSc.Run(renewCtx, l.rdb, []string{lk}, token, ttl.Milliseconds()).Err()
			}
		}
	}()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		stopRenew()

		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
	}

	return release, nil
}
