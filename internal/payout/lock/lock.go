// Package lock provides per-event mutual exclusion for payout computation.
// Multiple service instances share no memory, so the production lock lives
// in Redis; the in-memory variant backs unit tests and single-node setups.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "doorledger/pkg/domain"
)

// Locker grants exclusive ownership of an event's payout computation.
// Acquire returns acquired=false when another holder is active. The release
// func is safe to call after the TTL has expired the key.
type Locker interface {
	Acquire(ctx context.Context, eventID id.EventID) (release func(), acquired bool, err error)
}

// RedisLocker implements Locker with SET NX and a TTL. The TTL bounds how
// long a crashed holder can block other callers.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, eventID id.EventID) (func(), bool, error) {
	key := "doorledger:payout-lock:" + eventID.String()
	holder := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, holder, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire payout lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Delete only our own key; a TTL expiry followed by another holder's
		// acquire must not be clobbered.
		const script = `
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			end
			return 0
		`
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.client.Eval(ctx, script, []string{key}, holder)
	}
	return release, true, nil
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[id.EventID]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[id.EventID]bool)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, eventID id.EventID) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[eventID] {
		return nil, false, nil
	}
	l.held[eventID] = true
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, eventID)
	}
	return release, true, nil
}
