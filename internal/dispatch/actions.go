package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"teleconsult/internal/calls"
)

type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeDeclined       Outcome = "declined"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeGone           Outcome = "gone"
	OutcomeFailed         Outcome = "failed"
)

// Result is what a prompt action resolved to.
type Result struct {
	Outcome Outcome      `json:"outcome"`
	Record  calls.Record `json:"record"`
	Message string       `json:"message,omitempty"`
}

// CallActions is the part of calls.Service the prompt actions need.
type CallActions interface {
	Accept(ctx context.Context, actor calls.Actor, id string) (calls.Record, error)
	Decline(ctx context.Context, actor calls.Actor, id string) (calls.Record, error)
}

// Actions resolves prompt buttons into outcomes. Lost races, vanished records
// and credential failures are outcomes; only store and permission errors are
// returned as errors.
type Actions struct {
	calls CallActions
	log   *slog.Logger
}

func NewActions(c CallActions, log *slog.Logger) *Actions {
	if log == nil {
		log = slog.Default()
	}
	return &Actions{calls: c, log: log}
}

func (a *Actions) Accept(ctx context.Context, actor calls.Actor, id string) (Result, error) {
	rec, err := a.calls.Accept(ctx, actor, id)
	return a.resolve(id, OutcomeAccepted, rec, err)
}

func (a *Actions) Decline(ctx context.Context, actor calls.Actor, id string) (Result, error) {
	rec, err := a.calls.Decline(ctx, actor, id)
	return a.resolve(id, OutcomeDeclined, rec, err)
}

func (a *Actions) resolve(id string, success Outcome, rec calls.Record, err error) (Result, error) {
	switch {
	case err == nil:
		return Result{Outcome: success, Record: rec}, nil
	case errors.Is(err, calls.ErrConflict):
		return Result{Outcome: OutcomeAlreadyHandled, Record: rec, Message: "this call was already handled"}, nil
	case errors.Is(err, calls.ErrNotFound):
		return Result{Outcome: OutcomeGone, Message: "this call no longer exists"}, nil
	case errors.Is(err, calls.ErrCredentialIssuance):
		a.log.Warn("call failed on accept", "call_id", id, "err", err)
		return Result{Outcome: OutcomeFailed, Record: rec, Message: rec.Error}, nil
	default:
		return Result{}, err
	}
}
