// Package dispatch turns call record change feeds into user-facing
// notifications and maps user actions onto call transitions.
package dispatch

import (
	"context"

	"teleconsult/internal/calls"
)

type Kind string

const (
	// Callee side.
	KindIncoming  Kind = "incoming_call"
	KindWithdrawn Kind = "call_withdrawn"

	// Caller side.
	KindJoin       Kind = "join_call"
	KindDeclined   Kind = "call_declined"
	KindUnanswered Kind = "call_unanswered"
	KindCancelled  Kind = "call_cancelled"
	KindFailed     Kind = "call_failed"
	KindEnded      Kind = "call_ended"
)

// Notification is one actionable prompt for a user.
type Notification struct {
	Kind    Kind         `json:"kind"`
	CallID  string       `json:"callId"`
	Record  calls.Record `json:"record"`
	Message string       `json:"message,omitempty"`
}

// Sink receives notifications. Implementations must not block for long;
// the feed for that user waits on them.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// ChanSink delivers notifications on a channel.
type ChanSink struct {
	C chan Notification
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Notification, buffer)}
}

func (s *ChanSink) Notify(ctx context.Context, n Notification) error {
	select {
	case s.C <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminalKind maps a terminal status to the caller notification for it.
func terminalKind(st calls.Status) (Kind, bool) {
	switch st {
	case calls.StatusDeclined:
		return KindDeclined, true
	case calls.StatusUnanswered:
		return KindUnanswered, true
	case calls.StatusCancelled:
		return KindCancelled, true
	case calls.StatusFailed:
		return KindFailed, true
	case calls.StatusEnded:
		return KindEnded, true
	default:
		return "", false
	}
}
