// Package protocol defines the persistent-connection wire protocol: the
// closed set of inbound and outbound events and their payloads. Field names
// follow the client contract (camelCase), independent of storage encoding.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"counselconnect-backend/internal/domain"
)

// Inbound event names
const (
	EventJoinRoom         = "join_room"
	EventLeaveCall        = "leave_call"
	EventSendMessage      = "send_message"
	EventInitiateCall     = "initiate_call"
	EventSendOffer        = "send_offer"
	EventSendAnswer       = "send_answer"
	EventSendICECandidate = "send_ice_candidate"
	EventAcceptCall       = "accept_call_webrtc"
	EventRejectCall       = "reject_call_webrtc"
	EventEndCall          = "end_call_webrtc"
)

// Outbound event names
const (
	EventReceiveMessage      = "receive_message"
	EventIncomingCallOffer   = "incoming_call_offer"
	EventReceiveOffer        = "receive_offer"
	EventReceiveAnswer       = "receive_answer"
	EventReceiveICECandidate = "receive_ice_candidate"
	EventCallAccepted        = "call_accepted_webrtc"
	EventCallRejected        = "call_rejected_webrtc"
	EventCallEnded           = "call_ended_webrtc"
	EventError               = "error"
)

// Envelope frames every inbound event
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRoom binds the session to its identity scope
type JoinRoom struct {
	Identity uuid.UUID `json:"identity"`
}

// LeaveCall detaches the session from live fan-out without closing the
// connection. The identity must match the session's binding.
type LeaveCall struct {
	Identity uuid.UUID `json:"identity"`
}

// SendMessage carries an inbound chat message
type SendMessage struct {
	Receiver   uuid.UUID          `json:"receiver"`
	Body       string             `json:"body"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

// ReceiveMessage is the outbound counterpart of SendMessage
type ReceiveMessage struct {
	Sender     uuid.UUID          `json:"sender"`
	Receiver   uuid.UUID          `json:"receiver"`
	Body       string             `json:"body"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// InitiateCall starts a call attempt. CallID is optional: set when the
// caller already created the record over HTTP.
type InitiateCall struct {
	CallerID   uuid.UUID  `json:"callerId"`
	ReceiverID uuid.UUID  `json:"receiverId"`
	CallType   string     `json:"callType"`
	CallID     *uuid.UUID `json:"callId,omitempty"`
}

// IncomingCallOffer notifies the receiver of a ringing call
type IncomingCallOffer struct {
	CallerID   uuid.UUID `json:"callerId"`
	CallType   string    `json:"callType"`
	CallID     uuid.UUID `json:"callId"`
	CallerName string    `json:"callerName"`
}

// SendOffer relays an SDP offer. The payload is opaque to the server.
type SendOffer struct {
	To     uuid.UUID       `json:"to"`
	Offer  json.RawMessage `json:"offer"`
	CallID uuid.UUID       `json:"callId"`
}

// ReceiveOffer is the outbound counterpart of SendOffer
type ReceiveOffer struct {
	Offer  json.RawMessage `json:"offer"`
	CallID uuid.UUID       `json:"callId"`
}

// SendAnswer relays an SDP answer. The payload is opaque to the server.
type SendAnswer struct {
	To     uuid.UUID       `json:"to"`
	Answer json.RawMessage `json:"answer"`
	CallID uuid.UUID       `json:"callId"`
}

// ReceiveAnswer is the outbound counterpart of SendAnswer
type ReceiveAnswer struct {
	Answer json.RawMessage `json:"answer"`
	CallID uuid.UUID       `json:"callId"`
}

// SendICECandidate relays an ICE candidate. The payload is opaque to the server.
type SendICECandidate struct {
	To        uuid.UUID       `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
	CallID    uuid.UUID       `json:"callId"`
}

// ReceiveICECandidate is the outbound counterpart of SendICECandidate
type ReceiveICECandidate struct {
	Candidate json.RawMessage `json:"candidate"`
	CallID    uuid.UUID       `json:"callId"`
}

// AcceptCall accepts a ringing call
type AcceptCall struct {
	CallerID   uuid.UUID `json:"callerId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	CallID     uuid.UUID `json:"callId"`
}

// CallAccepted notifies the caller of acceptance
type CallAccepted struct {
	CallID     uuid.UUID `json:"callId"`
	ReceiverID uuid.UUID `json:"receiverId"`
}

// RejectCall rejects a ringing call
type RejectCall struct {
	CallerID uuid.UUID `json:"callerId"`
	CallID   uuid.UUID `json:"callId"`
}

// CallRejected notifies the caller of rejection
type CallRejected struct {
	CallID uuid.UUID `json:"callId"`
}

// EndCall ends a ringing or accepted call
type EndCall struct {
	To     uuid.UUID `json:"to"`
	CallID uuid.UUID `json:"callId"`
}

// CallEnded notifies the other participant the call is over
type CallEnded struct {
	CallID uuid.UUID `json:"callId"`
}

// ErrorNotice reports a benign signaling failure to the originating
// session only; it never reaches the other participant
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
