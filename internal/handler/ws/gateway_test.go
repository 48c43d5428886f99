package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counselconnect-backend/internal/domain"
	"counselconnect-backend/internal/protocol"
	"counselconnect-backend/internal/registry"
	"counselconnect-backend/internal/repository/memory"
	"counselconnect-backend/internal/service/call"
	"counselconnect-backend/internal/service/chat"
	"counselconnect-backend/internal/service/signal"
	apperrors "counselconnect-backend/pkg/errors"
)

type nopMessageRepo struct{}

func (nopMessageRepo) Save(ctx context.Context, msg *domain.ChatMessage) error { return nil }

func (nopMessageRepo) GetHistory(ctx context.Context, a, b uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	return nil, nil
}

func newTestGateway() *Gateway {
	reg := registry.NewInMemory()
	chatSvc := chat.NewService(nopMessageRepo{}, reg, nil, nil)
	coord := signal.NewCoordinator(reg, call.NewService(memory.NewCallRepository()), nil, nil)
	return NewGateway(reg, chatSvc, coord, nil, nil)
}

// newSession registers a session without a real socket; dispatch and Send
// only touch the outbound queue.
func newSession(g *Gateway, identity uuid.UUID) *session {
	sess := &session{
		gateway:  g,
		send:     make(chan []byte, sendBufferSize),
		id:       uuid.NewString(),
		identity: identity,
	}
	g.reg.Register(sess.id, sess)
	return sess
}

func frame(t *testing.T, event string, payload interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	require.NoError(t, err)
	return raw
}

func nextFrame(t *testing.T, sess *session) protocol.Envelope {
	t.Helper()
	select {
	case raw := <-sess.send:
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return protocol.Envelope{}
	}
}

func assertNoFrame(t *testing.T, sess *session) {
	t.Helper()
	select {
	case raw := <-sess.send:
		t.Fatalf("unexpected frame: %s", raw)
	default:
	}
}

func join(t *testing.T, g *Gateway, sess *session) {
	t.Helper()
	g.dispatch(sess, frame(t, protocol.EventJoinRoom, protocol.JoinRoom{Identity: sess.identity}))
	assertNoFrame(t, sess)
}

func TestDispatch_MessageReachesJoinedReceiver(t *testing.T) {
	g := newTestGateway()
	sender := newSession(g, uuid.New())
	receiver := newSession(g, uuid.New())
	join(t, g, sender)
	join(t, g, receiver)

	g.dispatch(sender, frame(t, protocol.EventSendMessage, protocol.SendMessage{
		Receiver: receiver.identity,
		Body:     "hello",
	}))

	env := nextFrame(t, receiver)
	assert.Equal(t, protocol.EventReceiveMessage, env.Event)

	var msg protocol.ReceiveMessage
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, sender.identity, msg.Sender)
	assert.Equal(t, "hello", msg.Body)
	assertNoFrame(t, sender)
}

func TestDispatch_UnboundSessionIsDropped(t *testing.T) {
	g := newTestGateway()
	sender := newSession(g, uuid.New())
	receiver := newSession(g, uuid.New())
	join(t, g, receiver)

	// sender never joined: the event is dropped without a reply
	g.dispatch(sender, frame(t, protocol.EventSendMessage, protocol.SendMessage{
		Receiver: receiver.identity,
		Body:     "hello",
	}))

	assertNoFrame(t, receiver)
	assertNoFrame(t, sender)
}

func TestDispatch_JoinAsAnotherIdentityForbidden(t *testing.T) {
	g := newTestGateway()
	sess := newSession(g, uuid.New())

	g.dispatch(sess, frame(t, protocol.EventJoinRoom, protocol.JoinRoom{Identity: uuid.New()}))

	env := nextFrame(t, sess)
	assert.Equal(t, protocol.EventError, env.Event)

	var notice protocol.ErrorNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, string(apperrors.ErrCodeForbidden), notice.Code)

	// The bad join left the session unbound.
	_, bound := g.reg.Identity(sess.id)
	assert.False(t, bound)
}

func TestDispatch_LeaveCallDetachesSession(t *testing.T) {
	g := newTestGateway()
	sender := newSession(g, uuid.New())
	receiver := newSession(g, uuid.New())
	join(t, g, sender)
	join(t, g, receiver)

	g.dispatch(receiver, frame(t, protocol.EventLeaveCall, protocol.LeaveCall{Identity: receiver.identity}))
	assertNoFrame(t, receiver)

	// the detached session no longer takes part in fan-out
	g.dispatch(sender, frame(t, protocol.EventSendMessage, protocol.SendMessage{
		Receiver: receiver.identity,
		Body:     "hello",
	}))
	assertNoFrame(t, receiver)
}

func TestDispatch_LeaveAsAnotherIdentityForbidden(t *testing.T) {
	g := newTestGateway()
	sess := newSession(g, uuid.New())
	other := newSession(g, uuid.New())
	join(t, g, sess)
	join(t, g, other)

	g.dispatch(sess, frame(t, protocol.EventLeaveCall, protocol.LeaveCall{Identity: other.identity}))

	env := nextFrame(t, sess)
	assert.Equal(t, protocol.EventError, env.Event)

	// the session stays bound and keeps receiving
	g.dispatch(other, frame(t, protocol.EventSendMessage, protocol.SendMessage{
		Receiver: sess.identity,
		Body:     "still here",
	}))
	env = nextFrame(t, sess)
	assert.Equal(t, protocol.EventReceiveMessage, env.Event)
}

func TestDispatch_UnknownEventIsDropped(t *testing.T) {
	g := newTestGateway()
	sess := newSession(g, uuid.New())
	join(t, g, sess)

	g.dispatch(sess, frame(t, "mute_audio", map[string]bool{"muted": true}))
	assertNoFrame(t, sess)
}

func TestDispatch_MalformedFrameIsDropped(t *testing.T) {
	g := newTestGateway()
	sess := newSession(g, uuid.New())
	join(t, g, sess)

	g.dispatch(sess, []byte("{not json"))
	assertNoFrame(t, sess)
}

func TestDispatch_StaleSignalRepliesToOriginatorOnly(t *testing.T) {
	g := newTestGateway()
	caller := newSession(g, uuid.New())
	receiver := newSession(g, uuid.New())
	join(t, g, caller)
	join(t, g, receiver)

	g.dispatch(caller, frame(t, protocol.EventSendOffer, protocol.SendOffer{
		To:     receiver.identity,
		Offer:  json.RawMessage(`{"sdp":"v=0"}`),
		CallID: uuid.New(),
	}))

	env := nextFrame(t, caller)
	assert.Equal(t, protocol.EventError, env.Event)

	var notice protocol.ErrorNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, string(apperrors.ErrCodeStaleCall), notice.Code)
	assertNoFrame(t, receiver)
}

func TestDispatch_FullCallFlow(t *testing.T) {
	g := newTestGateway()
	caller := newSession(g, uuid.New())
	receiver := newSession(g, uuid.New())
	join(t, g, caller)
	join(t, g, receiver)

	g.dispatch(caller, frame(t, protocol.EventInitiateCall, protocol.InitiateCall{
		ReceiverID: receiver.identity,
		CallType:   "video",
	}))

	env := nextFrame(t, receiver)
	require.Equal(t, protocol.EventIncomingCallOffer, env.Event)
	var offer protocol.IncomingCallOffer
	require.NoError(t, json.Unmarshal(env.Data, &offer))
	assert.Equal(t, caller.identity, offer.CallerID)

	g.dispatch(caller, frame(t, protocol.EventSendOffer, protocol.SendOffer{
		To:     receiver.identity,
		Offer:  json.RawMessage(`{"type":"offer"}`),
		CallID: offer.CallID,
	}))
	assert.Equal(t, protocol.EventReceiveOffer, nextFrame(t, receiver).Event)

	g.dispatch(receiver, frame(t, protocol.EventAcceptCall, protocol.AcceptCall{
		CallerID:   caller.identity,
		ReceiverID: receiver.identity,
		CallID:     offer.CallID,
	}))
	assert.Equal(t, protocol.EventCallAccepted, nextFrame(t, caller).Event)

	g.dispatch(receiver, frame(t, protocol.EventSendAnswer, protocol.SendAnswer{
		To:     caller.identity,
		Answer: json.RawMessage(`{"type":"answer"}`),
		CallID: offer.CallID,
	}))
	assert.Equal(t, protocol.EventReceiveAnswer, nextFrame(t, caller).Event)

	g.dispatch(caller, frame(t, protocol.EventSendICECandidate, protocol.SendICECandidate{
		To:        receiver.identity,
		Candidate: json.RawMessage(`{"candidate":"c"}`),
		CallID:    offer.CallID,
	}))
	assert.Equal(t, protocol.EventReceiveICECandidate, nextFrame(t, receiver).Event)

	g.dispatch(caller, frame(t, protocol.EventEndCall, protocol.EndCall{
		To:     receiver.identity,
		CallID: offer.CallID,
	}))
	assert.Equal(t, protocol.EventCallEnded, nextFrame(t, receiver).Event)
}

func TestDispatch_RejectFlow(t *testing.T) {
	g := newTestGateway()
	caller := newSession(g, uuid.New())
	receiver := newSession(g, uuid.New())
	join(t, g, caller)
	join(t, g, receiver)

	g.dispatch(caller, frame(t, protocol.EventInitiateCall, protocol.InitiateCall{
		ReceiverID: receiver.identity,
		CallType:   "audio",
	}))

	env := nextFrame(t, receiver)
	var offer protocol.IncomingCallOffer
	require.NoError(t, json.Unmarshal(env.Data, &offer))

	g.dispatch(receiver, frame(t, protocol.EventRejectCall, protocol.RejectCall{
		CallerID: caller.identity,
		CallID:   offer.CallID,
	}))
	assert.Equal(t, protocol.EventCallRejected, nextFrame(t, caller).Event)
}
