package calls

import (
	"errors"
	"fmt"
)

var (
	// ErrWrite means the store could not persist a change (unavailable, permission denied).
	// It is the only error that is not recovered into an outcome.
	ErrWrite = errors.New("calls: store write failed")

	// ErrConflict means a conditional update lost the race: the call was already handled.
	ErrConflict = errors.New("calls: call already handled")

	// ErrNotFound means the record no longer exists.
	ErrNotFound = errors.New("calls: call no longer exists")

	// ErrCredentialIssuance means the video credential could not be issued; the record is failed.
	ErrCredentialIssuance = errors.New("calls: credential issuance failed")

	// ErrTimeout means nobody answered within the ringing window. It is an outcome, not a failure.
	ErrTimeout = errors.New("calls: call was not answered")

	// ErrFeedInterrupted means a subscription was ended by the store, for
	// example after its change feed reconnected. Subscribers should resubscribe.
	ErrFeedInterrupted = errors.New("calls: change feed interrupted")

	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrForbidden       = errors.New("calls: actor may not perform this action")
	ErrTooManyCalls    = errors.New("calls: too many ringing calls")
)

// WriteError wraps a storage failure so that errors.Is(err, ErrWrite) holds
// while the driver error stays inspectable.
func WriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrWrite) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrWrite, err)
}

// OutcomeError maps a terminal status to the error describing it from the
// caller's point of view. Non-terminal statuses and ended return nil.
func OutcomeError(r Record) error {
	switch r.Status {
	case StatusUnanswered:
		return ErrTimeout
	case StatusFailed:
		if r.Error != "" {
			return fmt.Errorf("%w: %s", ErrCredentialIssuance, r.Error)
		}
		return ErrCredentialIssuance
	case StatusDeclined, StatusCancelled:
		return ErrConflict
	default:
		return nil
	}
}
