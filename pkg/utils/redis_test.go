package utils

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type noScriptErr struct{}

func (noScriptErr) Error() string { return "NOSCRIPT No matching script. Please use EVAL." }
func (noScriptErr) RedisError() {}

// scriptedRedis runs the slot scripts against an in-memory counter map. The
// first EVALSHA of each script reports NOSCRIPT, like a fresh server.
type scriptedRedis struct {
	redis.Scripter

	mu     sync.Mutex
	loaded map[string]bool
	counts map[string]int64
	ttls   map[string]int64
	evals  int
}

func newScriptedRedis() *scriptedRedis {
	return &scriptedRedis{loaded: map[string]bool{}, counts: map[string]int64{}, ttls: map[string]int64{}}
}

func (r *scriptedRedis) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	r.mu.Lock()
	loaded := r.loaded[sha]
	r.mu.Unlock()
	if !loaded {
		return redis.NewCmdResult(nil, noScriptErr{})
	}
	return r.run(sha, keys, args)
}

func (r *scriptedRedis) Eval(ctx context.Context, src string, keys []string, args ...interface{}) *redis.Cmd {
	sha := redis.NewScript(src).Hash()
	r.mu.Lock()
	r.loaded[sha] = true
	r.evals++
	r.mu.Unlock()
	return r.run(sha, keys, args)
}

func (r *scriptedRedis) run(sha string, keys []string, args []interface{}) *redis.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keys[0]
	switch sha {
	case slotAcquireScript.Hash():
		limit, _ := strconv.ParseInt(toString(args[0]), 10, 64)
		ttl, _ := strconv.ParseInt(toString(args[1]), 10, 64)
		if r.counts[key] >= limit {
			return redis.NewCmdResult(int64(0), nil)
		}
		r.counts[key]++
		r.ttls[key] = ttl
		return redis.NewCmdResult(int64(1), nil)
	case slotReleaseScript.Hash():
		r.counts[key]--
		if r.counts[key] <= 0 {
			delete(r.counts, key)
			delete(r.ttls, key)
			return redis.NewCmdResult(int64(0), nil)
		}
		return redis.NewCmdResult(r.counts[key], nil)
	}
	return redis.NewCmdResult(nil, redis.Nil)
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		return x
	}
	return ""
}

func TestSlotCounter_AcquireUpToLimit(t *testing.T) {
	ctx := context.Background()
	rdb := newScriptedRedis()
	slots := NewSlotCounter(rdb)

	for i := 0; i < 2; i++ {
		ok, err := slots.Acquire(ctx, "calls:ringing:p1", 2, 90*time.Second)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := slots.Acquire(ctx, "calls:ringing:p1", 2, 90*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("third acquire must be rejected")
	}
	if ok, _ := slots.Acquire(ctx, "calls:ringing:p2", 2, 90*time.Second); !ok {
		t.Fatalf("other keys are counted separately")
	}
	if rdb.ttls["calls:ringing:p1"] != 90000 {
		t.Fatalf("expected ttl in ms, got %d", rdb.ttls["calls:ringing:p1"])
	}
	// One EVAL per script; later runs go through EVALSHA.
	if rdb.evals != 1 {
		t.Fatalf("expected a single EVAL fallback, got %d", rdb.evals)
	}
}

func TestSlotCounter_ReleaseFreesSlot(t *testing.T) {
	ctx := context.Background()
	rdb := newScriptedRedis()
	slots := NewSlotCounter(rdb)

	if ok, _ := slots.Acquire(ctx, "k", 1, time.Second); !ok {
		t.Fatalf("expected first acquire")
	}
	if ok, _ := slots.Acquire(ctx, "k", 1, time.Second); ok {
		t.Fatalf("expected limit reached")
	}
	n, err := slots.Release(ctx, "k")
	if err != nil || n != 0 {
		t.Fatalf("release: n=%d err=%v", n, err)
	}
	if _, ok := rdb.counts["k"]; ok {
		t.Fatalf("counter key must be removed when empty")
	}
	if ok, _ := slots.Acquire(ctx, "k", 1, time.Second); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestSlotCounter_ValidatesArgs(t *testing.T) {
	ctx := context.Background()
	slots := NewSlotCounter(newScriptedRedis())

	cases := []struct {
		name  string
		c     *SlotCounter
		key   string
		limit int
		ttl   time.Duration
	}{
		{"nil client", NewSlotCounter(nil), "calls:ringing:p1", 1, time.Minute},
		{"empty key", slots, "", 1, time.Minute},
		{"zero limit", slots, "calls:ringing:p1", 0, time.Minute},
		{"sub-millisecond ttl", slots, "calls:ringing:p1", 1, time.Microsecond},
	}
	for _, tc := range cases {
		if _, err := tc.c.Acquire(ctx, tc.key, tc.limit, tc.ttl); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if _, err := NewSlotCounter(nil).Release(ctx, "k"); err == nil {
		t.Fatal("release with nil client: expected error")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	o := RedisConfig{Addr: "redis:6379", MinIdleConns: -1}.options()
	if o.PoolSize != 20 || o.MinIdleConns != 0 {
		t.Fatalf("pool defaults: size=%d idle=%d", o.PoolSize, o.MinIdleConns)
	}
	if o.DialTimeout != 3*time.Second || o.ReadTimeout != 2*time.Second {
		t.Fatalf("timeout defaults: dial=%s read=%s", o.DialTimeout, o.ReadTimeout)
	}
	o = RedisConfig{Addr: "redis:6379", Name: "teleconsult", PoolSize: 5}.options()
	if o.PoolSize != 5 || o.ClientName != "teleconsult" {
		t.Fatalf("explicit values must be kept: %+v", o)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty addr")
	}
}
