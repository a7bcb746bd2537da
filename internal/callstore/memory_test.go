package callstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"teleconsult/internal/calls"
)

func ringing(id string) calls.Record {
	return calls.Record{ID: id, CallerID: "p1", ReceiverID: "d1", Status: calls.StatusRinging}
}

func next(t *testing.T, sub calls.Subscription) calls.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return calls.Event{}
}

func TestMemoryStore_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, err := m.Create(ctx, ringing("c1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := m.ConditionalUpdate(ctx, "c1", calls.StatusRinging, calls.Patch{Status: calls.StatusAccepted})
	if err != nil || !ok {
		t.Fatalf("expected first update to apply, got %v %v", ok, err)
	}
	ok, err = m.ConditionalUpdate(ctx, "c1", calls.StatusRinging, calls.Patch{Status: calls.StatusDeclined})
	if err != nil || ok {
		t.Fatalf("expected status mismatch to be rejected, got %v %v", ok, err)
	}
	if _, err := m.ConditionalUpdate(ctx, "nope", calls.StatusRinging, calls.Patch{Status: calls.StatusAccepted}); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	r, _ := m.Get(ctx, "c1")
	if r.Status != calls.StatusAccepted || r.Version != 2 {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestMemoryStore_PatchKeepsUnsetFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.Create(ctx, ringing("c1"))
	tok, link := "t", "l"
	_, _ = m.ConditionalUpdate(ctx, "c1", calls.StatusRinging, calls.Patch{Status: calls.StatusAccepted, MeetingToken: &tok, MeetingLink: &link})
	_, _ = m.ConditionalUpdate(ctx, "c1", calls.StatusAccepted, calls.Patch{Status: calls.StatusConnecting})

	r, _ := m.Get(ctx, "c1")
	if r.MeetingToken != "t" || r.MeetingLink != "l" {
		t.Fatalf("expected credential to survive later patches, got %+v", r)
	}
}

func TestMemoryStore_DuplicateCreateIsWriteError(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.Create(ctx, ringing("c1"))
	if _, err := m.Create(ctx, ringing("c1")); !errors.Is(err, calls.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
}

func TestMemoryStore_SubscribeSnapshotThenChanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	defer m.Close()
	_, _ = m.Create(ctx, ringing("c1"))

	sub, err := m.Subscribe(ctx, calls.Filter{ReceiverID: "d1", Statuses: []calls.Status{calls.StatusRinging}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if ev := next(t, sub); ev.Type != calls.ChangeAdded || ev.Record.ID != "c1" {
		t.Fatalf("expected snapshot add, got %+v", ev)
	}

	_, _ = m.Create(ctx, ringing("c2"))
	if ev := next(t, sub); ev.Type != calls.ChangeAdded || ev.Record.ID != "c2" {
		t.Fatalf("expected live add, got %+v", ev)
	}

	_, _ = m.ConditionalUpdate(ctx, "c1", calls.StatusRinging, calls.Patch{Status: calls.StatusCancelled})
	ev := next(t, sub)
	if ev.Type != calls.ChangeRemoved || ev.Record.ID != "c1" || ev.Record.Status != calls.StatusCancelled {
		t.Fatalf("expected removal carrying the new status, got %+v", ev)
	}

	// Records for someone else never show up.
	_, _ = m.Create(ctx, calls.Record{ID: "x", CallerID: "p1", ReceiverID: "d2", Status: calls.StatusRinging})
	_, _ = m.ConditionalUpdate(ctx, "c2", calls.StatusRinging, calls.Patch{Status: calls.StatusAccepted})
	if ev := next(t, sub); ev.Record.ID != "c2" || ev.Type != calls.ChangeRemoved {
		t.Fatalf("expected c2 removal, got %+v", ev)
	}
}

func TestMemoryStore_PerRecordOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	defer m.Close()

	sub, _ := m.Subscribe(ctx, calls.Filter{ID: "c1"})
	defer sub.Close()

	_, _ = m.Create(ctx, ringing("c1"))
	_, _ = m.ConditionalUpdate(ctx, "c1", calls.StatusRinging, calls.Patch{Status: calls.StatusAccepted})
	_, _ = m.ConditionalUpdate(ctx, "c1", calls.StatusAccepted, calls.Patch{Status: calls.StatusConnecting})
	_, _ = m.ConditionalUpdate(ctx, "c1", calls.StatusConnecting, calls.Patch{Status: calls.StatusEnded})

	want := []calls.Status{calls.StatusRinging, calls.StatusAccepted, calls.StatusConnecting, calls.StatusEnded}
	for i, st := range want {
		ev := next(t, sub)
		if ev.Record.Status != st || ev.Record.Version != int64(i+1) {
			t.Fatalf("event %d: expected %s v%d, got %s v%d", i, st, i+1, ev.Record.Status, ev.Record.Version)
		}
	}
}

func TestMemoryStore_CloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	sub, _ := m.Subscribe(ctx, calls.Filter{})
	if m.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()

	_, _ = m.Create(ctx, ringing("c1"))
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected no events after close, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel not closed")
	}
	if m.Subscribers() != 0 {
		t.Fatalf("expected subscriber removed")
	}
}

func TestMemoryStore_ContextEndsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemoryStore()
	sub, _ := m.Subscribe(ctx, calls.Filter{})
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel not closed after cancel")
	}
}

func TestMemoryStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.Create(ctx, ringing("a"))
	_, _ = m.Create(ctx, ringing("b"))

	n, err := m.DeleteAll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d %v", n, err)
	}
	if _, err := m.Get(ctx, "a"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after purge, got %v", err)
	}
	n, _ = m.DeleteAll(ctx)
	if n != 0 {
		t.Fatalf("expected 0 on empty store, got %d", n)
	}
}

func TestMemoryStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, _ = m.Create(ctx, ringing("a"))
	m.FailWrites = true

	if _, err := m.ConditionalUpdate(ctx, "a", calls.StatusRinging, calls.Patch{Status: calls.StatusAccepted}); !errors.Is(err, calls.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if _, err := m.DeleteAll(ctx); !errors.Is(err, calls.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
}
