// Package signal coordinates call setup and teardown over the persistent
// connection layer: ringing state, SDP/ICE relay, and the bridge between
// live signaling and durable call records.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselconnect-backend/internal/domain"
	"counselconnect-backend/internal/protocol"
	"counselconnect-backend/internal/registry"
	apperrors "counselconnect-backend/pkg/errors"
	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/metrics"
	"counselconnect-backend/pkg/push"
)

// CallRecorder is the slice of the call service the coordinator needs.
type CallRecorder interface {
	Create(ctx context.Context, callerID, receiverID uuid.UUID, callType domain.CallType) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, next domain.CallStatus, byIdentity uuid.UUID) (*domain.Call, error)
	Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
}

// teardownTimeout bounds the call-record update performed when a
// participant's last session disconnects.
const teardownTimeout = 5 * time.Second

type sessionState int

const (
	stateRinging sessionState = iota
	stateActive
)

// callSession is the in-memory view of a call that is ringing or connected.
type callSession struct {
	callID     uuid.UUID
	callerID   uuid.UUID
	receiverID uuid.UUID
	callType   domain.CallType
	state      sessionState
}

func (cs *callSession) other(identity uuid.UUID) (uuid.UUID, bool) {
	switch identity {
	case cs.callerID:
		return cs.receiverID, true
	case cs.receiverID:
		return cs.callerID, true
	}
	return uuid.Nil, false
}

// Coordinator tracks live call sessions and relays signaling events between
// the two participants. Events referencing calls it no longer tracks are
// answered with a stale-call error to the originator only; the other
// participant is never woken up for them.
type Coordinator struct {
	reg   registry.Registry
	calls CallRecorder
	push  *push.Service
	dir   domain.Directory

	mu       sync.Mutex
	sessions map[uuid.UUID]*callSession
}

func NewCoordinator(reg registry.Registry, calls CallRecorder, pushSvc *push.Service, dir domain.Directory) *Coordinator {
	c := &Coordinator{
		reg:      reg,
		calls:    calls,
		push:     pushSvc,
		dir:      dir,
		sessions: make(map[uuid.UUID]*callSession),
	}
	reg.OnTeardown(c.onTeardown)
	return c
}

// Initiate starts a call attempt: it creates (or adopts) the durable call
// record, marks the session ringing, and offers the call to the receiver.
func (c *Coordinator) Initiate(ctx context.Context, caller uuid.UUID, req protocol.InitiateCall) error {
	if req.ReceiverID == uuid.Nil {
		return apperrors.ValidationError("receiverId is required")
	}
	if req.ReceiverID == caller {
		return apperrors.ValidationError("cannot call yourself")
	}
	callType := domain.CallType(req.CallType)
	if !callType.Valid() {
		return apperrors.ValidationError("callType must be audio or video")
	}

	if existing := c.findByPair(caller, req.ReceiverID); existing != nil {
		return apperrors.ConflictError("a call between these participants is already in progress")
	}

	var record *domain.Call
	var err error
	if req.CallID != nil {
		// The caller created the record over HTTP before signaling.
		record, err = c.calls.Get(ctx, *req.CallID)
		if err != nil {
			return apperrors.StaleCallError("call record not found")
		}
		if record.CallerID != caller || record.ReceiverID != req.ReceiverID {
			return apperrors.ForbiddenError("call record belongs to different participants")
		}
		if record.Status != domain.CallStatusPending {
			return apperrors.StaleCallError("call is no longer pending")
		}
	} else {
		record, err = c.calls.Create(ctx, caller, req.ReceiverID, callType)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	if _, dup := c.sessions[record.CallID]; dup {
		c.mu.Unlock()
		return apperrors.ConflictError("call is already being signaled")
	}
	c.sessions[record.CallID] = &callSession{
		callID:     record.CallID,
		callerID:   caller,
		receiverID: req.ReceiverID,
		callType:   callType,
		state:      stateRinging,
	}
	c.mu.Unlock()
	metrics.CallsActive.Inc()

	callerName := c.displayName(ctx, caller)
	c.reg.EmitToIdentity(req.ReceiverID, protocol.EventIncomingCallOffer, protocol.IncomingCallOffer{
		CallerID:   caller,
		CallType:   string(callType),
		CallID:     record.CallID,
		CallerName: callerName,
	})

	if c.push != nil && c.reg.SessionCount(req.ReceiverID) == 0 {
		go c.push.NotifyIncomingCall(context.Background(), req.ReceiverID, callerName, string(callType), record.CallID)
	}

	return nil
}

// RelayOffer forwards an SDP offer to the other participant.
func (c *Coordinator) RelayOffer(ctx context.Context, from uuid.UUID, req protocol.SendOffer) error {
	peer, err := c.liveParticipant(req.CallID, from, protocol.EventSendOffer)
	if err != nil {
		return err
	}
	c.reg.EmitToIdentity(peer, protocol.EventReceiveOffer, protocol.ReceiveOffer{
		Offer:  req.Offer,
		CallID: req.CallID,
	})
	return nil
}

// RelayAnswer forwards an SDP answer to the other participant.
func (c *Coordinator) RelayAnswer(ctx context.Context, from uuid.UUID, req protocol.SendAnswer) error {
	peer, err := c.liveParticipant(req.CallID, from, protocol.EventSendAnswer)
	if err != nil {
		return err
	}
	c.reg.EmitToIdentity(peer, protocol.EventReceiveAnswer, protocol.ReceiveAnswer{
		Answer: req.Answer,
		CallID: req.CallID,
	})
	return nil
}

// RelayICECandidate forwards an ICE candidate to the other participant.
func (c *Coordinator) RelayICECandidate(ctx context.Context, from uuid.UUID, req protocol.SendICECandidate) error {
	peer, err := c.liveParticipant(req.CallID, from, protocol.EventSendICECandidate)
	if err != nil {
		return err
	}
	c.reg.EmitToIdentity(peer, protocol.EventReceiveICECandidate, protocol.ReceiveICECandidate{
		Candidate: req.Candidate,
		CallID:    req.CallID,
	})
	return nil
}

// Accept transitions a ringing call to active. Only the receiver may accept.
func (c *Coordinator) Accept(ctx context.Context, actor uuid.UUID, req protocol.AcceptCall) error {
	c.mu.Lock()
	cs, ok := c.sessions[req.CallID]
	if !ok {
		c.mu.Unlock()
		return c.stale(protocol.EventAcceptCall, req.CallID)
	}
	if actor != cs.receiverID {
		c.mu.Unlock()
		return apperrors.ForbiddenError("only the receiver may accept a call")
	}
	if cs.state != stateRinging {
		c.mu.Unlock()
		return c.stale(protocol.EventAcceptCall, req.CallID)
	}
	caller := cs.callerID
	c.mu.Unlock()

	if _, err := c.calls.UpdateStatus(ctx, req.CallID, domain.CallStatusAccepted, actor); err != nil {
		return err
	}

	c.mu.Lock()
	if cs, ok := c.sessions[req.CallID]; ok {
		cs.state = stateActive
	}
	c.mu.Unlock()

	c.reg.EmitToIdentity(caller, protocol.EventCallAccepted, protocol.CallAccepted{
		CallID:     req.CallID,
		ReceiverID: actor,
	})
	return nil
}

// Reject declines a ringing call. Only the receiver may reject.
func (c *Coordinator) Reject(ctx context.Context, actor uuid.UUID, req protocol.RejectCall) error {
	c.mu.Lock()
	cs, ok := c.sessions[req.CallID]
	if !ok {
		c.mu.Unlock()
		return c.stale(protocol.EventRejectCall, req.CallID)
	}
	if actor != cs.receiverID {
		c.mu.Unlock()
		return apperrors.ForbiddenError("only the receiver may reject a call")
	}
	if cs.state != stateRinging {
		c.mu.Unlock()
		return c.stale(protocol.EventRejectCall, req.CallID)
	}
	caller := cs.callerID
	c.mu.Unlock()

	if _, err := c.calls.UpdateStatus(ctx, req.CallID, domain.CallStatusRejected, actor); err != nil {
		return err
	}
	c.drop(req.CallID)

	c.reg.EmitToIdentity(caller, protocol.EventCallRejected, protocol.CallRejected{
		CallID: req.CallID,
	})
	return nil
}

// End terminates a ringing or active call. Either participant may end.
func (c *Coordinator) End(ctx context.Context, actor uuid.UUID, req protocol.EndCall) error {
	c.mu.Lock()
	cs, ok := c.sessions[req.CallID]
	if !ok {
		c.mu.Unlock()
		return c.stale(protocol.EventEndCall, req.CallID)
	}
	other, participant := cs.other(actor)
	c.mu.Unlock()
	if !participant {
		return apperrors.ForbiddenError("not a participant in this call")
	}

	if _, err := c.calls.UpdateStatus(ctx, req.CallID, domain.CallStatusEnded, actor); err != nil {
		return err
	}
	c.drop(req.CallID)

	c.reg.EmitToIdentity(other, protocol.EventCallEnded, protocol.CallEnded{
		CallID: req.CallID,
	})
	return nil
}

// onTeardown ends every live call the departed identity was part of. It only
// fires when the identity's last session is gone: a second device staying
// connected keeps the call alive.
func (c *Coordinator) onTeardown(sessionID string, identity uuid.UUID, lastSession bool) {
	if !lastSession {
		return
	}

	c.mu.Lock()
	var affected []*callSession
	for _, cs := range c.sessions {
		if _, ok := cs.other(identity); ok {
			affected = append(affected, cs)
		}
	}
	c.mu.Unlock()

	for _, cs := range affected {
		other, _ := cs.other(identity)
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		if _, err := c.calls.UpdateStatus(ctx, cs.callID, domain.CallStatusEnded, identity); err != nil {
			logger.Warn("Failed to end call after disconnect",
				zap.String("call_id", cs.callID.String()),
				zap.String("identity", identity.String()),
				zap.Error(err))
		}
		cancel()
		c.drop(cs.callID)

		c.reg.EmitToIdentity(other, protocol.EventCallEnded, protocol.CallEnded{
			CallID: cs.callID,
		})
	}
}

// liveParticipant resolves the counterpart of from in a live call. The
// counterpart comes from the call session, never from the event payload.
func (c *Coordinator) liveParticipant(callID, from uuid.UUID, event string) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.sessions[callID]
	if !ok {
		return uuid.Nil, c.stale(event, callID)
	}
	peer, participant := cs.other(from)
	if !participant {
		return uuid.Nil, apperrors.ForbiddenError("not a participant in this call")
	}
	return peer, nil
}

func (c *Coordinator) findByPair(a, b uuid.UUID) *callSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cs := range c.sessions {
		if (cs.callerID == a && cs.receiverID == b) || (cs.callerID == b && cs.receiverID == a) {
			return cs
		}
	}
	return nil
}

func (c *Coordinator) drop(callID uuid.UUID) {
	c.mu.Lock()
	_, ok := c.sessions[callID]
	delete(c.sessions, callID)
	c.mu.Unlock()
	if ok {
		metrics.CallsActive.Dec()
	}
}

func (c *Coordinator) stale(event string, callID uuid.UUID) error {
	metrics.StaleCallEventsTotal.WithLabelValues(event).Inc()
	logger.Debug("Dropped stale call event",
		zap.String("event", event),
		zap.String("call_id", callID.String()))
	return apperrors.StaleCallError("call is no longer available")
}

func (c *Coordinator) displayName(ctx context.Context, id uuid.UUID) string {
	if c.dir == nil {
		return "Someone"
	}
	name, err := c.dir.DisplayName(ctx, id)
	if err != nil || name == "" {
		return "Someone"
	}
	return name
}
