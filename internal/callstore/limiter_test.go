package callstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// countingRedis answers the slot scripts from a per-key counter. Scripts are
// told apart by argument count: acquire sends limit and ttl, release nothing.
type countingRedis struct {
	redis.Scripter

	mu     sync.Mutex
	counts map[string]int64
	args   []interface{}
}

func (r *countingRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keys[0]
	if len(args) == 2 {
		r.args = args
		if r.counts[key] >= int64(args[0].(int)) {
			return redis.NewCmdResult(int64(0), nil)
		}
		r.counts[key]++
		return redis.NewCmdResult(int64(1), nil)
	}
	if r.counts[key]--; r.counts[key] <= 0 {
		delete(r.counts, key)
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(r.counts[key], nil)
}

func TestRedisLimiter_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	rdb := &countingRedis{counts: map[string]int64{}}
	l := NewRedisLimiter(rdb, 1, 70*time.Second)

	if ok, err := l.Acquire(ctx, "p1"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := l.Acquire(ctx, "p1"); ok {
		t.Fatalf("second ringing call for p1 must be refused")
	}
	if ok, _ := l.Acquire(ctx, "p2"); !ok {
		t.Fatalf("p2 has its own slots")
	}
	if rdb.counts["calls:ringing:p1"] != 1 {
		t.Fatalf("expected per-caller key, got %v", rdb.counts)
	}
	if ms, _ := rdb.args[1].(int64); ms != 70000 {
		t.Fatalf("expected ttl in ms, got %v", rdb.args[1])
	}

	if err := l.Release(ctx, "p1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, "p1"); !ok {
		t.Fatalf("released slot must be reusable")
	}
}

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(2)
	for i := 0; i < 2; i++ {
		if ok, _ := l.Acquire(ctx, "p1"); !ok {
			t.Fatalf("acquire %d refused", i)
		}
	}
	if ok, _ := l.Acquire(ctx, "p1"); ok {
		t.Fatalf("limit exceeded")
	}
	_ = l.Release(ctx, "p1")
	_ = l.Release(ctx, "p1")
	_ = l.Release(ctx, "p1")
	if len(l.counts) != 0 {
		t.Fatalf("extra release must not go negative: %v", l.counts)
	}
}
