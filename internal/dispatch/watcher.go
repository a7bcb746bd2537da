package dispatch

import (
	"context"
	"fmt"

	"teleconsult/internal/calls"
)

// RunCallerWatcher follows one call for its caller. It sends a join
// notification once the record is accepted with a credential, then returns
// after the first terminal notification.
func RunCallerWatcher(ctx context.Context, store calls.Store, callID string, sink Sink) error {
	if callID == "" {
		return fmt.Errorf("%w: call id required", calls.ErrInvalidArgument)
	}
	sub, err := store.Subscribe(ctx, calls.Filter{ID: callID})
	if err != nil {
		return err
	}
	defer sub.Close()

	joined := false
	for ev := range sub.Events() {
		rec := ev.Record
		if ev.Type == calls.ChangeRemoved {
			return calls.ErrNotFound
		}

		if kind, ok := terminalKind(rec.Status); ok {
			n := Notification{Kind: kind, CallID: rec.ID, Record: rec}
			if rec.Status == calls.StatusFailed {
				n.Message = rec.Error
			}
			return sink.Notify(ctx, n)
		}

		live := rec.Status == calls.StatusAccepted || rec.Status == calls.StatusConnecting
		if live && rec.HasCredential() && !joined {
			joined = true
			if err := sink.Notify(ctx, Notification{Kind: KindJoin, CallID: rec.ID, Record: rec}); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return calls.ErrFeedInterrupted
}
