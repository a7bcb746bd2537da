package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"teleconsult/internal/calls"
)

// CallObserver bridges the call service's lifecycle hooks to the audit log.
// It keeps the calls package free of any persistence concern.
type CallObserver struct {
	Audit *Service
}

var _ calls.Observer = CallObserver{}

type callMetadata struct {
	Version  int64  `json:"version"`
	Receiver string `json:"receiver_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (o CallObserver) CallCreated(ctx context.Context, r calls.Record, actor calls.Actor) error {
	if o.Audit == nil {
		return nil
	}
	return o.Audit.Append(ctx, Event{
		Type:      EventTypeCallCreated,
		CallID:    r.ID,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		IPAddress: ClientIPFromContext(ctx),
		ToStatus:  string(r.Status),
		Message:   "call placed",
		Metadata:  encodeMetadata(callMetadata{Version: r.Version, Receiver: r.ReceiverID}),
	})
}

func (o CallObserver) CallTransitioned(ctx context.Context, from calls.Status, r calls.Record, actor calls.Actor) error {
	if o.Audit == nil {
		return nil
	}
	msg := "call " + string(from) + " -> " + string(r.Status)
	if actor.UserID == "" {
		msg += " (system)"
	}
	return o.Audit.Append(ctx, Event{
		Type:       EventTypeCallTransition,
		CallID:     r.ID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		IPAddress:  ClientIPFromContext(ctx),
		FromStatus: string(from),
		ToStatus:   string(r.Status),
		Message:    msg,
		Metadata:   encodeMetadata(callMetadata{Version: r.Version, Error: r.Error}),
	})
}

func (o CallObserver) CallsPurged(ctx context.Context, n int, actor calls.Actor) error {
	if o.Audit == nil {
		return nil
	}
	return o.Audit.LogPurge(ctx, actor.UserID, actor.Role, ClientIPFromContext(ctx), n, `{"deleted":`+strconv.Itoa(n)+`}`)
}

func encodeMetadata(m callMetadata) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
