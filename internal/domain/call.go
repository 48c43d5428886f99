package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository-level sentinel errors, shared by all Call store implementations
var (
	// ErrCallNotFound is returned when a call id is unknown
	ErrCallNotFound = errors.New("call not found")

	// ErrStatusConflict is returned when a compare-and-set update observed a
	// different current status than expected (a concurrent transition won)
	ErrStatusConflict = errors.New("call status changed concurrently")
)

// CallType represents the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether the call type is a known kind
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus represents the lifecycle status of a call.
// The progression is strict: pending -> accepted -> ended, or
// pending -> rejected. Ended and rejected are terminal.
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
)

// Valid reports whether the status is a known value
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusPending, CallStatusAccepted, CallStatusRejected, CallStatusEnded:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions
func (s CallStatus) Terminal() bool {
	return s == CallStatusEnded || s == CallStatusRejected
}

// CanTransitionTo reports whether next is a legal successor of s
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusPending:
		return next == CallStatusAccepted || next == CallStatusRejected || next == CallStatusEnded
	case CallStatusAccepted:
		return next == CallStatusEnded
	}
	return false
}

// Call represents one attempted audio/video interaction and its persisted
// lifecycle record. Calls are never deleted; they are retained as history.
type Call struct {
	CallID     uuid.UUID  `json:"call_id"`
	CallerID   uuid.UUID  `json:"caller_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	CallType   CallType   `json:"call_type"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Duration   int        `json:"duration"` // whole seconds, 0 if never accepted
}

// IsParticipant reports whether the identity is the caller or receiver
func (c *Call) IsParticipant(identity uuid.UUID) bool {
	return c.CallerID == identity || c.ReceiverID == identity
}

// Other returns the counterpart of the given participant
func (c *Call) Other(identity uuid.UUID) uuid.UUID {
	if c.CallerID == identity {
		return c.ReceiverID
	}
	return c.CallerID
}
