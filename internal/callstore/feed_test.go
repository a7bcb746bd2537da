package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"teleconsult/internal/calls"

	"github.com/redis/go-redis/v9"
)

func waitClosed(t *testing.T, sub calls.Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected subscription to end")
		}
	}
}

func payload(t *testing.T, r calls.Record) string {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestPostgresStore_RelistenEndsSubscriptions(t *testing.T) {
	s := NewPostgresStore(nil, nil)
	s.markReady()

	sub := s.hub.subscribe(context.Background(), calls.Filter{})
	sub.seed(nil)

	// LISTEN came back after a dropped connection; notifications in between are lost.
	s.markReady()
	waitClosed(t, sub)
	if s.hub.len() != 0 {
		t.Fatalf("expected no subscriptions after the gap")
	}

	fresh := s.hub.subscribe(context.Background(), calls.Filter{})
	defer fresh.Close()
	fresh.seed(nil)
	r := ringing("c1")
	r.Version = 1
	s.handleNotification(payload(t, r))
	if ev := next(t, fresh); ev.Type != calls.ChangeAdded || ev.Record.ID != "c1" {
		t.Fatalf("expected add on new subscription, got %+v", ev)
	}
}

func TestPostgresStore_FirstListenKeepsSubscriptions(t *testing.T) {
	s := NewPostgresStore(nil, nil)
	sub := s.hub.subscribe(context.Background(), calls.Filter{})
	defer sub.Close()
	sub.seed(nil)

	s.markReady()
	if s.hub.len() != 1 {
		t.Fatalf("first LISTEN must not end subscriptions")
	}
}

func TestRedisStore_FeedGapEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := NewRedisStore(nil, nil)
	var st feedState

	sub := s.hub.subscribe(ctx, calls.Filter{})
	sub.seed(nil)
	r := ringing("c1")
	r.Version = 1
	s.handleFeed(&st, &redis.Message{Channel: RedisChannel, Payload: payload(t, r)}, nil)
	if ev := next(t, sub); ev.Type != calls.ChangeAdded {
		t.Fatalf("expected add, got %+v", ev)
	}

	s.handleFeed(&st, nil, errors.New("read tcp 10.0.0.5:6379: connection reset by peer"))
	waitClosed(t, sub)

	// Subscribed while the client was redialling: writes before the
	// resubscription are not delivered, so it ends on confirmation too.
	late := s.hub.subscribe(ctx, calls.Filter{})
	late.seed(nil)
	s.handleFeed(&st, &redis.Subscription{Kind: "subscribe", Channel: RedisChannel, Count: 1}, nil)
	waitClosed(t, late)
	if st.broken {
		t.Fatalf("expected feed marked healthy after resubscribe")
	}

	steady := s.hub.subscribe(ctx, calls.Filter{})
	defer steady.Close()
	steady.seed(nil)
	s.handleFeed(&st, &redis.Subscription{Kind: "subscribe", Channel: RedisChannel, Count: 1}, nil)
	r.Version = 2
	r.Status = calls.StatusAccepted
	s.handleFeed(&st, &redis.Message{Channel: RedisChannel, Payload: payload(t, r)}, nil)
	if ev := next(t, steady); ev.Record.Version != 2 {
		t.Fatalf("expected delivery on a healthy feed, got %+v", ev)
	}
}

func TestRedisStore_BadPayloadIsSkipped(t *testing.T) {
	s := NewRedisStore(nil, nil)
	var st feedState
	sub := s.hub.subscribe(context.Background(), calls.Filter{})
	defer sub.Close()
	sub.seed(nil)

	s.handleFeed(&st, &redis.Message{Channel: RedisChannel, Payload: "{"}, nil)
	if s.hub.len() != 1 || st.broken {
		t.Fatalf("a bad payload must not end subscriptions")
	}
}
