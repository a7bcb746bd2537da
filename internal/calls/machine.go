package calls

import "fmt"

// Transition names an input to the state machine.
type Transition string

const (
	TransitionAccept           Transition = "accept"
	TransitionDecline          Transition = "decline"
	TransitionCancel           Transition = "cancel"
	TransitionTimeout          Transition = "timeout_elapsed"
	TransitionCredentialIssued Transition = "credential_issued"
	TransitionCredentialFailed Transition = "credential_issue_failed"
	TransitionJoin             Transition = "join"
	TransitionLeave            Transition = "leave"
)

// Who may trigger a transition.
type actorKind int

const (
	bySystem actorKind = iota
	byReceiver
	byCaller
	byEitherParty
)

type edge struct {
	to Status
	by actorKind
}

// transitions is the complete table of legal moves. Nothing leads back to
// ringing, which keeps status monotonic.
var transitions = map[Status]map[Transition]edge{
	StatusRinging: {
		TransitionAccept:  {to: StatusAccepted, by: byReceiver},
		TransitionDecline: {to: StatusDeclined, by: byReceiver},
		TransitionCancel:  {to: StatusCancelled, by: byCaller},
		TransitionTimeout: {to: StatusUnanswered, by: bySystem},
	},
	StatusAccepted: {
		TransitionCredentialIssued: {to: StatusAccepted, by: bySystem},
		TransitionCredentialFailed: {to: StatusFailed, by: bySystem},
		TransitionJoin:             {to: StatusConnecting, by: byEitherParty},
		TransitionLeave:            {to: StatusEnded, by: byEitherParty},
	},
	StatusConnecting: {
		TransitionLeave: {to: StatusEnded, by: byEitherParty},
	},
}

// Next returns the status reached by applying t to from.
// An illegal move returns ErrConflict, never a panic.
func Next(from Status, t Transition) (Status, error) {
	e, ok := transitions[from][t]
	if !ok {
		return "", fmt.Errorf("%w: %s not allowed from %s", ErrConflict, t, from)
	}
	return e.to, nil
}

// Allowed reports whether actor may trigger t on r. System transitions are
// never allowed for a user actor.
func Allowed(r Record, t Transition, userID string) bool {
	for _, edges := range transitions {
		e, ok := edges[t]
		if !ok {
			continue
		}
		switch e.by {
		case byReceiver:
			return userID != "" && userID == r.ReceiverID
		case byCaller:
			return userID != "" && userID == r.CallerID
		case byEitherParty:
			return r.IsParty(userID)
		default:
			return false
		}
	}
	return false
}
