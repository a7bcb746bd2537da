package audit

import (
	"context"
	"strings"
	"testing"

	"teleconsult/internal/calls"
)

func TestService_AppendRequiresTypeAndCall(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeCallTransition}); err == nil {
		t.Fatalf("expected error for missing call id")
	}
	if err := svc.LogPurge(context.Background(), "admin", "admin", "", 3, "{}"); err != nil {
		t.Fatalf("purge events need no call id: %v", err)
	}
}

func TestCallObserver_RecordsTrail(t *testing.T) {
	repo := NewMemoryRepo()
	obs := CallObserver{Audit: NewService(repo)}
	ctx := WithClientIP(context.Background(), "1.2.3.4")

	rec := calls.Record{ID: "c1", CallerID: "p1", ReceiverID: "d1", Status: calls.StatusRinging, Version: 1}
	if err := obs.CallCreated(ctx, rec, calls.Actor{UserID: "p1", Role: "patient"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	rec.Status, rec.Version = calls.StatusUnanswered, 2
	if err := obs.CallTransitioned(context.Background(), calls.StatusRinging, rec, calls.Actor{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	evs, _ := repo.ListByCall(context.Background(), "c1")
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].IPAddress != "1.2.3.4" || evs[0].ActorID != "p1" || evs[0].Type != EventTypeCallCreated {
		t.Fatalf("unexpected create event %+v", evs[0])
	}
	if evs[1].FromStatus != "ringing" || evs[1].ToStatus != "unanswered" || !strings.Contains(evs[1].Message, "system") {
		t.Fatalf("unexpected transition event %+v", evs[1])
	}
	if !strings.Contains(evs[1].Metadata, `"version":2`) {
		t.Fatalf("expected version in metadata, got %s", evs[1].Metadata)
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestCallObserver_NilAuditIsNoOp(t *testing.T) {
	var obs CallObserver
	if err := obs.CallsPurged(context.Background(), 1, calls.Actor{}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
