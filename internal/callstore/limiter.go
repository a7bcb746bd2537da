package callstore

import (
	"context"
	"sync"
	"time"

	"teleconsult/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter caps how many calls one caller may have ringing at once,
// across every instance sharing the Redis.
type RedisLimiter struct {
	slots *utils.SlotCounter
	limit int
	ttl   time.Duration
}

// NewRedisLimiter returns a limiter allowing limit ringing calls per caller.
// ttl bounds how long a slot survives a crashed instance; use a value above
// the ring timeout.
func NewRedisLimiter(rdb redis.Scripter, limit int, ttl time.Duration) *RedisLimiter {
	return &RedisLimiter{slots: utils.NewSlotCounter(rdb), limit: limit, ttl: ttl}
}

func ringingKey(callerID string) string { return "calls:ringing:" + callerID }

func (l *RedisLimiter) Acquire(ctx context.Context, callerID string) (bool, error) {
	return l.slots.Acquire(ctx, ringingKey(callerID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, callerID string) error {
	_, err := l.slots.Release(ctx, ringingKey(callerID))
	return err
}

// MemoryLimiter is the single-process counterpart of RedisLimiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, counts: make(map[string]int)}
}

func (l *MemoryLimiter) Acquire(_ context.Context, callerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[callerID] >= l.limit {
		return false, nil
	}
	l.counts[callerID]++
	return true, nil
}

func (l *MemoryLimiter) Release(_ context.Context, callerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[callerID] <= 1 {
		delete(l.counts, callerID)
		return nil
	}
	l.counts[callerID]--
	return nil
}
