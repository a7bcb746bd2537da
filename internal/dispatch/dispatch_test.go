package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/callstore"
)

var (
	patient = calls.Actor{UserID: "patient-1", Role: "patient"}
	doctor  = calls.Actor{UserID: "doctor-1", Role: "doctor"}
)

type okIssuer struct{ err error }

func (i okIssuer) Issue(_ context.Context, req calls.CredentialRequest) (calls.Credential, error) {
	if i.err != nil {
		return calls.Credential{}, i.err
	}
	return calls.Credential{Token: "tok", Link: "https://meet.example/" + req.RoomID}, nil
}

// heldTimers never fire on their own; fire runs every armed callback.
type heldTimers struct{ fns []func() }

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (h *heldTimers) afterFunc(_ time.Duration, fn func()) calls.Timer {
	h.fns = append(h.fns, fn)
	return noopTimer{}
}

func (h *heldTimers) fire() {
	for _, fn := range h.fns {
		fn()
	}
}

func setup(t *testing.T, issuer calls.CredentialIssuer) (*calls.Service, *callstore.MemoryStore, *heldTimers) {
	t.Helper()
	store := callstore.NewMemoryStore()
	timers := &heldTimers{}
	svc := calls.NewService(store, issuer, calls.Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		AfterFunc: timers.afterFunc,
	})
	t.Cleanup(func() {
		svc.Close()
		_ = store.Close()
	})
	return svc, store, timers
}

func place(t *testing.T, svc *calls.Service) calls.Record {
	t.Helper()
	rec, err := svc.Create(context.Background(), patient, calls.CreateRequest{
		Caller:   calls.Party{ID: patient.UserID},
		Receiver: calls.Party{ID: doctor.UserID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func recv(t *testing.T, s *ChanSink) Notification {
	t.Helper()
	select {
	case n := <-s.C:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
	return Notification{}
}

func expectQuiet(t *testing.T, s *ChanSink) {
	t.Helper()
	select {
	case n := <-s.C:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCalleeInbox_PromptsAndWithdraws(t *testing.T) {
	svc, store, timers := setup(t, okIssuer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	existing := place(t, svc)
	sink := NewChanSink(8)
	done := make(chan error, 1)
	go func() { done <- RunCalleeInbox(ctx, store, doctor.UserID, sink) }()

	n := recv(t, sink)
	if n.Kind != KindIncoming || n.CallID != existing.ID {
		t.Fatalf("expected prompt for existing call, got %+v", n)
	}

	second := place(t, svc)
	if n := recv(t, sink); n.Kind != KindIncoming || n.CallID != second.ID {
		t.Fatalf("expected prompt for new call, got %+v", n)
	}

	if _, err := svc.Cancel(ctx, patient, existing.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	n = recv(t, sink)
	if n.Kind != KindWithdrawn || n.CallID != existing.ID || n.Record.Status != calls.StatusCancelled {
		t.Fatalf("expected withdrawal after cancel, got %+v", n)
	}

	timers.fire()
	n = recv(t, sink)
	if n.Kind != KindWithdrawn || n.CallID != second.ID || n.Record.Status != calls.StatusUnanswered {
		t.Fatalf("expected withdrawal after timeout, got %+v", n)
	}
	expectQuiet(t, sink)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("inbox did not stop on cancel")
	}
}

func TestCalleeInbox_IgnoresOtherReceivers(t *testing.T) {
	svc, store, _ := setup(t, okIssuer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := NewChanSink(8)
	go func() { _ = RunCalleeInbox(ctx, store, "doctor-2", sink) }()

	place(t, svc)
	expectQuiet(t, sink)
}

func TestCalleeInbox_NoPromptsAfterTeardown(t *testing.T) {
	svc, store, _ := setup(t, okIssuer{})
	ctx, cancel := context.WithCancel(context.Background())

	sink := NewChanSink(8)
	done := make(chan struct{})
	go func() {
		_ = RunCalleeInbox(ctx, store, doctor.UserID, sink)
		close(done)
	}()
	cancel()
	<-done

	place(t, svc)
	expectQuiet(t, sink)
	if store.Subscribers() != 0 {
		t.Fatalf("expected subscription released")
	}
}

func waitSubscribers(t *testing.T, store *callstore.MemoryStore, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("feed never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedsReportInterruption(t *testing.T) {
	svc, store, _ := setup(t, okIssuer{})
	rec := place(t, svc)

	inboxDone := make(chan error, 1)
	inbox := NewChanSink(8)
	go func() { inboxDone <- RunCalleeInbox(context.Background(), store, doctor.UserID, inbox) }()
	recv(t, inbox)

	watchDone := make(chan error, 1)
	go func() { watchDone <- RunCallerWatcher(context.Background(), store, rec.ID, NewChanSink(8)) }()
	waitSubscribers(t, store, 2)

	// The store ends its subscriptions, as it does after a change feed gap.
	_ = store.Close()
	for name, done := range map[string]chan error{"inbox": inboxDone, "watcher": watchDone} {
		select {
		case err := <-done:
			if !errors.Is(err, calls.ErrFeedInterrupted) {
				t.Fatalf("%s: expected ErrFeedInterrupted, got %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not stop", name)
		}
	}
}

func TestCallerWatcher_JoinThenEnded(t *testing.T) {
	svc, store, _ := setup(t, okIssuer{})
	ctx := context.Background()
	rec := place(t, svc)

	sink := NewChanSink(8)
	done := make(chan error, 1)
	go func() { done <- RunCallerWatcher(ctx, store, rec.ID, sink) }()

	if _, err := svc.Accept(ctx, doctor, rec.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	n := recv(t, sink)
	if n.Kind != KindJoin || n.Record.MeetingToken != "tok" {
		t.Fatalf("expected join with token, got %+v", n)
	}

	if _, err := svc.Join(ctx, patient, rec.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Leave(ctx, doctor, rec.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if n := recv(t, sink); n.Kind != KindEnded {
		t.Fatalf("expected ended, got %+v", n)
	}
	if err := <-done; err != nil {
		t.Fatalf("watcher: %v", err)
	}
}

func TestCallerWatcher_TerminalOutcomes(t *testing.T) {
	cases := []struct {
		name string
		act  func(svc *calls.Service, timers *heldTimers, id string)
		want Kind
	}{
		{"declined", func(svc *calls.Service, _ *heldTimers, id string) { _, _ = svc.Decline(context.Background(), doctor, id) }, KindDeclined},
		{"cancelled", func(svc *calls.Service, _ *heldTimers, id string) { _, _ = svc.Cancel(context.Background(), patient, id) }, KindCancelled},
		{"unanswered", func(_ *calls.Service, timers *heldTimers, _ string) { timers.fire() }, KindUnanswered},
	}
	for _, tc := range cases {
		svc, store, timers := setup(t, okIssuer{})
		rec := place(t, svc)
		sink := NewChanSink(8)
		done := make(chan error, 1)
		go func() { done <- RunCallerWatcher(context.Background(), store, rec.ID, sink) }()

		tc.act(svc, timers, rec.ID)
		if n := recv(t, sink); n.Kind != tc.want {
			t.Fatalf("%s: expected %s, got %+v", tc.name, tc.want, n)
		}
		if err := <-done; err != nil {
			t.Fatalf("%s: watcher: %v", tc.name, err)
		}
	}
}

func TestCallerWatcher_FailedSurfacesError(t *testing.T) {
	svc, store, _ := setup(t, okIssuer{err: errors.New("signing service down")})
	rec := place(t, svc)

	sink := NewChanSink(8)
	go func() { _ = RunCallerWatcher(context.Background(), store, rec.ID, sink) }()

	if _, err := svc.Accept(context.Background(), doctor, rec.ID); !errors.Is(err, calls.ErrCredentialIssuance) {
		t.Fatalf("expected ErrCredentialIssuance, got %v", err)
	}
	n := recv(t, sink)
	if n.Kind != KindFailed || n.Message != "signing service down" {
		t.Fatalf("expected failure with verbatim error, got %+v", n)
	}
}

func TestActions_Outcomes(t *testing.T) {
	svc, store, _ := setup(t, okIssuer{})
	actions := NewActions(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	rec := place(t, svc)
	res, err := actions.Accept(ctx, doctor, rec.ID)
	if err != nil || res.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %+v %v", res, err)
	}
	res, err = actions.Decline(ctx, doctor, rec.ID)
	if err != nil || res.Outcome != OutcomeAlreadyHandled || res.Message == "" {
		t.Fatalf("expected already handled, got %+v %v", res, err)
	}
	if res.Record.Status != calls.StatusAccepted {
		t.Fatalf("expected latest record on lost race, got %s", res.Record.Status)
	}

	res, err = actions.Accept(ctx, doctor, "missing")
	if err != nil || res.Outcome != OutcomeGone {
		t.Fatalf("expected gone, got %+v %v", res, err)
	}

	if _, err := actions.Accept(ctx, patient, place(t, svc).ID); !errors.Is(err, calls.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	pending := place(t, svc)
	store.FailWrites = true
	if _, err := actions.Decline(ctx, doctor, pending.ID); !errors.Is(err, calls.ErrWrite) {
		t.Fatalf("expected ErrWrite to propagate, got %v", err)
	}
}

func TestActions_CredentialFailureIsOutcome(t *testing.T) {
	svc, _, _ := setup(t, okIssuer{err: errors.New("boom")})
	actions := NewActions(svc, nil)

	rec := place(t, svc)
	res, err := actions.Accept(context.Background(), doctor, rec.ID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Message != "boom" {
		t.Fatalf("expected failed outcome, got %+v", res)
	}
}
