package calls

import (
	"slices"
	"time"
)

// Record represents one patient-to-doctor video call attempt.
//
// Invariants:
// - Exactly one record per call attempt.
// - Status never returns to ringing once it has left it.
// - MeetingToken/MeetingLink are only set after the record reached accepted.
// - ReceiverID never changes after creation.
//
// Version is incremented by the store on every write and lets subscribers
// discard stale or reordered change events.
type Record struct {
	ID string `json:"id" db:"id"`

	CallerID   string `json:"callerId" db:"caller_id"`
	CallerName string `json:"callerName" db:"caller_name"`

	ReceiverID   string `json:"receiverId" db:"receiver_id"`
	ReceiverName string `json:"receiverName" db:"receiver_name"`

	Status Status `json:"status" db:"status"`

	MeetingToken string `json:"meetingToken,omitempty" db:"meeting_token"`
	MeetingLink  string `json:"meetingLink,omitempty" db:"meeting_link"`

	// Error is a human-readable failure reason, set only when Status == failed.
	Error string `json:"error,omitempty" db:"error"`

	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type Status string

const (
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusAccepted   Status = "accepted"
	StatusDeclined   Status = "declined"
	StatusUnanswered Status = "unanswered"
	StatusCancelled  Status = "cancelled"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is part of the status vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusConnecting, StatusAccepted, StatusDeclined,
		StatusUnanswered, StatusCancelled, StatusEnded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusUnanswered, StatusCancelled, StatusEnded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsParty reports whether userID is the caller or the receiver of r.
func (r Record) IsParty(userID string) bool {
	return userID != "" && (userID == r.CallerID || userID == r.ReceiverID)
}

// HasCredential reports whether a meeting credential has been attached.
func (r Record) HasCredential() bool {
	return r.MeetingToken != "" || r.MeetingLink != ""
}

// Patch is the set of fields a conditional update may write.
// Status is always written; nil pointers leave the stored value untouched.
type Patch struct {
	Status       Status
	MeetingToken *string
	MeetingLink  *string
	Error        *string
}

// Apply returns r with p applied. Version and UpdatedAt are left to the store.
func (p Patch) Apply(r Record) Record {
	r.Status = p.Status
	if p.MeetingToken != nil {
		r.MeetingToken = *p.MeetingToken
	}
	if p.MeetingLink != nil {
		r.MeetingLink = *p.MeetingLink
	}
	if p.Error != nil {
		r.Error = *p.Error
	}
	return r
}

// Filter selects records for List and Subscribe. Empty fields match anything.
type Filter struct {
	ID         string   `json:"id,omitempty"`
	CallerID   string   `json:"callerId,omitempty"`
	ReceiverID string   `json:"receiverId,omitempty"`
	Statuses   []Status `json:"statuses,omitempty"`
}

func (f Filter) Matches(r Record) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.CallerID != "" && r.CallerID != f.CallerID {
		return false
	}
	if f.ReceiverID != "" && r.ReceiverID != f.ReceiverID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	return true
}

// ChangeType describes how a record relates to a subscription filter.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"    // record entered the filter (or was in the initial snapshot)
	ChangeModified ChangeType = "modified" // record still matches, some field changed
	ChangeRemoved  ChangeType = "removed"  // record no longer matches
)

// Event is one change delivered to a subscriber.
type Event struct {
	Type   ChangeType `json:"type"`
	Record Record     `json:"record"`
}

// Actor is the authenticated party performing an operation.
// It is passed explicitly into every service call.
type Actor struct {
	UserID string
	Name   string
	Role   string
}

// Party identifies one side of a call at creation time.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
