package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the shared Redis client. Zero fields use defaults.
type RedisConfig struct {
	Addr string
	// Name is sent as CLIENT SETNAME so connections show up in CLIENT LIST.
	Name string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration

	PoolSize        int
	MinIdleConns    int
	ConnMaxIdleTime time.Duration
}

func (c RedisConfig) options() *redis.Options {
	o := &redis.Options{
		Addr:            c.Addr,
		ClientName:      c.Name,
		DialTimeout:     durationOr(c.DialTimeout, 3*time.Second),
		ReadTimeout:     durationOr(c.ReadTimeout, 2*time.Second),
		WriteTimeout:    durationOr(c.WriteTimeout, 2*time.Second),
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		ConnMaxIdleTime: durationOr(c.ConnMaxIdleTime, 5*time.Minute),
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	if o.MinIdleConns < 0 {
		o.MinIdleConns = 0
	}
	return o
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// OpenRedis creates a client and checks it with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, durationOr(cfg.PingTimeout, 2*time.Second))
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

var slotAcquireScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = limit
-- ARGV[2] = ttl_ms
--
-- Returns 1 if a slot was taken, 0 if the key is at its limit.
-- Every successful acquire pushes the expiry out again.
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if held >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var slotReleaseScript = redis.NewScript(`
-- KEYS[1] = counter key
--
-- Returns the slots still held. The key is removed when none are left.
local held = redis.call('DECR', KEYS[1])
if held <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return held
`)

// SlotCounter hands out a bounded number of slots per key, shared by every
// process using the same Redis. Counters expire so a crashed holder cannot
// leak slots forever.
type SlotCounter struct {
	rdb redis.Scripter
}

// NewSlotCounter wraps a client; *redis.Client and *redis.ClusterClient both
// satisfy redis.Scripter. Cluster keys must hash to the slot of KEYS[1] only.
func NewSlotCounter(rdb redis.Scripter) *SlotCounter {
	return &SlotCounter{rdb: rdb}
}

// Acquire takes one slot for key unless limit slots are already held.
func (c *SlotCounter) Acquire(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	switch {
	case c == nil || c.rdb == nil:
		return false, errors.New("redis client is nil")
	case key == "":
		return false, errors.New("slot key is required")
	case limit <= 0:
		return false, fmt.Errorf("slot limit must be > 0, got %d", limit)
	case ttl < time.Millisecond:
		return false, fmt.Errorf("slot ttl must be at least 1ms, got %s", ttl)
	}
	n, err := slotAcquireScript.Run(ctx, c.rdb, []string{key}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire slot %s: %w", key, err)
	}
	return n == 1, nil
}

// Release gives back one slot and returns how many are still held.
func (c *SlotCounter) Release(ctx context.Context, key string) (int, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is nil")
	}
	if key == "" {
		return 0, errors.New("slot key is required")
	}
	n, err := slotReleaseScript.Run(ctx, c.rdb, []string{key}).Int()
	if err != nil {
		return 0, fmt.Errorf("release slot %s: %w", key, err)
	}
	return n, nil
}
