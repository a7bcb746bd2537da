package dispatch

import (
	"context"
	"fmt"

	"teleconsult/internal/calls"
)

// RunCalleeInbox streams incoming call prompts for receiverID to sink until
// ctx is done or the feed ends.
//
// Each ringing record is prompted once. When it leaves ringing for any reason
// (timeout, cancel, answered elsewhere) the prompt is withdrawn.
func RunCalleeInbox(ctx context.Context, store calls.Store, receiverID string, sink Sink) error {
	if receiverID == "" {
		return fmt.Errorf("%w: receiver id required", calls.ErrInvalidArgument)
	}
	sub, err := store.Subscribe(ctx, calls.Filter{
		ReceiverID: receiverID,
		Statuses:   []calls.Status{calls.StatusRinging},
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	prompted := make(map[string]bool)
	for ev := range sub.Events() {
		var n Notification
		switch ev.Type {
		case calls.ChangeAdded, calls.ChangeModified:
			if prompted[ev.Record.ID] {
				continue
			}
			prompted[ev.Record.ID] = true
			n = Notification{Kind: KindIncoming, CallID: ev.Record.ID, Record: ev.Record}
		case calls.ChangeRemoved:
			if !prompted[ev.Record.ID] {
				continue
			}
			delete(prompted, ev.Record.ID)
			n = Notification{Kind: KindWithdrawn, CallID: ev.Record.ID, Record: ev.Record, Message: string(ev.Record.Status)}
		default:
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return calls.ErrFeedInterrupted
}
