package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultCredentialTimeout bounds a single credential issuance.
const DefaultCredentialTimeout = 10 * time.Second

// Credential roles. The receiver (doctor) hosts the room.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Service coordinates the call lifecycle on top of a Store.
//
// Every status change goes through Store.ConditionalUpdate conditioned on the
// status the state machine expects, so concurrent accepts, declines, cancels
// and timer firings resolve to exactly one winner.
type Service struct {
	store   Store
	issuer  CredentialIssuer
	limiter RingingLimiter
	obs     Observer
	log     *slog.Logger

	watcher           *TimeoutWatcher
	credentialTimeout time.Duration

	clock func() time.Time
	newID func() string
}

type Options struct {
	RingTimeout       time.Duration
	CredentialTimeout time.Duration

	// Limiter and Observer are optional.
	Limiter  RingingLimiter
	Observer Observer

	Logger *slog.Logger

	// Clock, AfterFunc and NewID are injectable for deterministic tests.
	Clock     func() time.Time
	AfterFunc AfterFunc
	NewID     func() string
}

func NewService(store Store, issuer CredentialIssuer, opts Options) *Service {
	s := &Service{
		store:             store,
		issuer:            issuer,
		limiter:           opts.Limiter,
		obs:               opts.Observer,
		log:               opts.Logger,
		credentialTimeout: opts.CredentialTimeout,
		clock:             opts.Clock,
		newID:             opts.NewID,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.credentialTimeout <= 0 {
		s.credentialTimeout = DefaultCredentialTimeout
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.watcher = NewTimeoutWatcher(opts.RingTimeout, s.expire)
	s.watcher.clock = s.clock
	if opts.AfterFunc != nil {
		s.watcher.afterFunc = opts.AfterFunc
	}
	return s
}

// Watcher exposes the ringing timer set, mainly for tests and shutdown.
func (s *Service) Watcher() *TimeoutWatcher { return s.watcher }

type CreateRequest struct {
	Caller   Party
	Receiver Party
}

// Create persists a new ringing record and arms its timeout.
func (s *Service) Create(ctx context.Context, actor Actor, req CreateRequest) (Record, error) {
	req.Caller.ID = strings.TrimSpace(req.Caller.ID)
	req.Receiver.ID = strings.TrimSpace(req.Receiver.ID)
	req.Caller.Name = strings.TrimSpace(req.Caller.Name)
	req.Receiver.Name = strings.TrimSpace(req.Receiver.Name)
	if req.Caller.ID == "" || req.Receiver.ID == "" {
		return Record{}, fmt.Errorf("%w: caller and receiver are required", ErrInvalidArgument)
	}
	if err := checkParty("caller", req.Caller); err != nil {
		return Record{}, err
	}
	if err := checkParty("receiver", req.Receiver); err != nil {
		return Record{}, err
	}
	if req.Caller.ID == req.Receiver.ID {
		return Record{}, fmt.Errorf("%w: caller cannot call themselves", ErrInvalidArgument)
	}
	if actor.UserID != req.Caller.ID {
		return Record{}, ErrForbidden
	}

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, req.Caller.ID)
		if err != nil {
			return Record{}, WriteError(err)
		}
		if !ok {
			return Record{}, ErrTooManyCalls
		}
	}

	now := s.clock().UTC()
	rec := Record{
		ID:           s.newID(),
		CallerID:     req.Caller.ID,
		CallerName:   req.Caller.Name,
		ReceiverID:   req.Receiver.ID,
		ReceiverName: req.Receiver.Name,
		Status:       StatusRinging,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.store.Create(ctx, rec)
	if err != nil {
		s.release(ctx, rec)
		return Record{}, WriteError(err)
	}
	rec.ID = id
	rec.Version = 1

	s.watcher.Start(rec.ID, rec.CreatedAt)
	s.log.Info("call created", "call_id", rec.ID, "caller_id", rec.CallerID, "receiver_id", rec.ReceiverID)
	s.observeCreated(ctx, rec, actor)
	return rec, nil
}

// Get returns the record if actor is one of its parties.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !rec.IsParty(actor.UserID) {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

// Accept moves a ringing record to accepted and issues the meeting credential.
//
// Exactly one concurrent Accept succeeds; the others get ErrConflict. When
// issuance fails the record ends up failed and the error wraps
// ErrCredentialIssuance; the returned record reflects that.
func (s *Service) Accept(ctx context.Context, actor Actor, id string) (Record, error) {
	rec, err := s.transition(ctx, actor, id, TransitionAccept, Patch{})
	if err != nil {
		return rec, err
	}

	// The credential must be attached even if the requester goes away.
	return s.issueCredential(context.WithoutCancel(ctx), rec, actor)
}

func (s *Service) Decline(ctx context.Context, actor Actor, id string) (Record, error) {
	return s.transition(ctx, actor, id, TransitionDecline, Patch{})
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id string) (Record, error) {
	return s.transition(ctx, actor, id, TransitionCancel, Patch{})
}

// Join marks an accepted call as connecting. Joining a call that is already
// connecting returns it unchanged.
func (s *Service) Join(ctx context.Context, actor Actor, id string) (Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !rec.IsParty(actor.UserID) {
		return Record{}, ErrForbidden
	}
	if rec.Status == StatusConnecting {
		return rec, nil
	}
	if rec.Status == StatusAccepted && !rec.HasCredential() {
		return rec, fmt.Errorf("%w: credential not issued yet", ErrConflict)
	}
	return s.transition(ctx, actor, id, TransitionJoin, Patch{})
}

// Leave ends an accepted or connecting call.
func (s *Service) Leave(ctx context.Context, actor Actor, id string) (Record, error) {
	rec, err := s.transition(ctx, actor, id, TransitionLeave, Patch{})
	if errors.Is(err, ErrConflict) && rec.Status == StatusConnecting {
		// Raced with a join; the record is still leavable.
		return s.transition(ctx, actor, id, TransitionLeave, Patch{})
	}
	return rec, err
}

// JoinCredential issues a personal credential for either party of a live call.
// Nothing is written to the record.
func (s *Service) JoinCredential(ctx context.Context, actor Actor, id string) (Credential, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Credential{}, err
	}
	if !rec.IsParty(actor.UserID) {
		return Credential{}, ErrForbidden
	}
	if rec.Status != StatusAccepted && rec.Status != StatusConnecting {
		return Credential{}, fmt.Errorf("%w: call is %s", ErrConflict, rec.Status)
	}
	role := RoleGuest
	if actor.UserID == rec.ReceiverID {
		role = RoleHost
	}
	cred, err := s.issue(ctx, CredentialRequest{CalleeID: actor.UserID, RoomID: rec.ID, Role: role})
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialIssuance, err)
	}
	return cred, nil
}

// Purge deletes every record and disarms all timers. Ringing records are
// first ended as failed, so open prompts are withdrawn and limiter slots
// returned before the rows disappear.
func (s *Service) Purge(ctx context.Context, actor Actor) (int, error) {
	ringing, err := s.store.List(ctx, Filter{Statuses: []Status{StatusRinging}})
	if err != nil {
		return 0, err
	}
	for _, rec := range ringing {
		s.endForPurge(ctx, actor, rec)
	}

	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, WriteError(err)
	}
	s.watcher.StopAll()
	s.log.Warn("call records purged", "deleted", n, "ended_ringing", len(ringing), "actor_id", actor.UserID)
	if s.obs != nil {
		if err := s.obs.CallsPurged(ctx, n, actor); err != nil {
			s.log.Warn("observer purge failed", "err", err)
		}
	}
	return n, nil
}

// endForPurge fails one ringing record outside the normal transition table.
// Losing the race to an answer or a timeout is fine; that path already
// released the slot.
func (s *Service) endForPurge(ctx context.Context, actor Actor, rec Record) {
	reason := PurgedReason
	p := Patch{Status: StatusFailed, Error: &reason}
	ok, err := s.store.ConditionalUpdate(ctx, rec.ID, StatusRinging, p)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("purge could not end ringing call", "call_id", rec.ID, "err", err)
		}
		return
	}
	if !ok {
		return
	}
	s.watcher.Stop(rec.ID)
	s.release(ctx, rec)

	rec = p.Apply(rec)
	rec.Version++
	rec.UpdatedAt = s.clock().UTC()
	s.observeTransition(ctx, StatusRinging, rec, actor)
}

// Resume re-arms timers for records that are still ringing, typically after a
// restart. Records past their deadline expire immediately.
func (s *Service) Resume(ctx context.Context) (int, error) {
	recs, err := s.store.List(ctx, Filter{Statuses: []Status{StatusRinging}})
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		s.watcher.Start(r.ID, r.CreatedAt)
	}
	return len(recs), nil
}

// Close disarms all timers.
func (s *Service) Close() { s.watcher.StopAll() }

// transition reads the record, checks the actor, asks the state machine for
// the target status and writes it conditioned on the status just read.
// A lost CAS returns the freshest record and ErrConflict.
func (s *Service) transition(ctx context.Context, actor Actor, id string, t Transition, p Patch) (Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !Allowed(rec, t, actor.UserID) {
		return rec, ErrForbidden
	}
	return s.apply(ctx, actor, rec, t, p)
}

func (s *Service) apply(ctx context.Context, actor Actor, rec Record, t Transition, p Patch) (Record, error) {
	to, err := Next(rec.Status, t)
	if err != nil {
		return rec, err
	}
	p.Status = to

	ok, err := s.store.ConditionalUpdate(ctx, rec.ID, rec.Status, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rec, err
		}
		return rec, WriteError(err)
	}
	if !ok {
		latest, gerr := s.store.Get(ctx, rec.ID)
		if gerr != nil {
			latest = rec
		}
		s.log.Debug("call transition lost race", "call_id", rec.ID, "transition", t, "status", latest.Status)
		return latest, ErrConflict
	}

	from := rec.Status
	rec = p.Apply(rec)
	rec.Version++
	rec.UpdatedAt = s.clock().UTC()

	if from == StatusRinging {
		s.watcher.Stop(rec.ID)
		s.release(ctx, rec)
	}
	s.log.Info("call transition", "call_id", rec.ID, "transition", t, "from", from, "status", rec.Status)
	s.observeTransition(ctx, from, rec, actor)
	return rec, nil
}

// expire is the timeout callback. A record that already left ringing makes
// the conditional write fail, which is the expected no-op.
func (s *Service) expire(id string) {
	ctx := context.Background()
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("ringing timeout read failed", "call_id", id, "err", err)
		}
		return
	}
	if rec.Status != StatusRinging {
		return
	}
	if _, err := s.apply(ctx, Actor{}, rec, TransitionTimeout, Patch{}); err != nil && !errors.Is(err, ErrConflict) {
		s.log.Warn("ringing timeout write failed", "call_id", id, "err", err)
	}
}

func (s *Service) issueCredential(ctx context.Context, rec Record, actor Actor) (Record, error) {
	cred, err := s.issue(ctx, CredentialRequest{CalleeID: rec.ReceiverID, RoomID: rec.ID, Role: RoleHost})
	if err != nil {
		msg := truncate(err.Error(), maxErrorLen)
		failed, ferr := s.apply(ctx, actor, rec, TransitionCredentialFailed, Patch{Error: &msg})
		if ferr != nil {
			s.log.Error("credential failure not recorded", "call_id", rec.ID, "err", ferr)
			return rec, fmt.Errorf("%w: %s", ErrCredentialIssuance, msg)
		}
		return failed, fmt.Errorf("%w: %s", ErrCredentialIssuance, msg)
	}
	return s.apply(ctx, actor, rec, TransitionCredentialIssued, Patch{MeetingToken: &cred.Token, MeetingLink: &cred.Link})
}

// issue calls the issuer under the credential timeout. The issuer is not
// trusted to honour ctx, so the deadline is enforced here as well.
func (s *Service) issue(ctx context.Context, req CredentialRequest) (Credential, error) {
	if s.issuer == nil {
		return Credential{}, errors.New("credential issuer not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.credentialTimeout)
	defer cancel()

	type result struct {
		cred Credential
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := s.issuer.Issue(ctx, req)
		done <- result{cred: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.cred.Token == "" && r.cred.Link == "" {
			return Credential{}, errors.New("issuer returned an empty credential")
		}
		return r.cred, r.err
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("credential issuance timed out after %s", s.credentialTimeout)
	}
}

func (s *Service) release(ctx context.Context, rec Record) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Release(context.WithoutCancel(ctx), rec.CallerID); err != nil {
		s.log.Warn("ringing limiter release failed", "call_id", rec.ID, "caller_id", rec.CallerID, "err", err)
	}
}

func (s *Service) observeCreated(ctx context.Context, rec Record, actor Actor) {
	if s.obs == nil {
		return
	}
	if err := s.obs.CallCreated(ctx, rec, actor); err != nil {
		s.log.Warn("observer create failed", "call_id", rec.ID, "err", err)
	}
}

func (s *Service) observeTransition(ctx context.Context, from Status, rec Record, actor Actor) {
	if s.obs == nil {
		return
	}
	if err := s.obs.CallTransitioned(ctx, from, rec, actor); err != nil {
		s.log.Warn("observer transition failed", "call_id", rec.ID, "err", err)
	}
}

// Field bounds keep a serialized record well inside the Postgres NOTIFY
// payload limit of 8000 bytes.
const (
	maxIDLen    = 128
	maxNameLen  = 100 // runes
	maxErrorLen = 512
)

// PurgedReason is the error text on ringing calls ended by Purge.
const PurgedReason = "call records purged"

func checkParty(role string, p Party) error {
	if len(p.ID) > maxIDLen {
		return fmt.Errorf("%w: %s id longer than %d bytes", ErrInvalidArgument, role, maxIDLen)
	}
	if utf8.RuneCountInString(p.Name) > maxNameLen {
		return fmt.Errorf("%w: %s name longer than %d characters", ErrInvalidArgument, role, maxNameLen)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
