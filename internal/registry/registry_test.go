package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeTransport struct {
	mu     sync.Mutex
	events []string
	failed bool
}

func (t *fakeTransport) Send(event string, payload interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return errors.New("transport closed")
	}
	t.events = append(t.events, event)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) received() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	copy(out, t.events)
	return out
}

func TestEmitToIdentity_ReachesAllBoundSessions(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	phone := &fakeTransport{}
	laptop := &fakeTransport{}
	r.Register("s1", phone)
	r.Register("s2", laptop)
	assert.NoError(t, r.Bind("s1", identity))
	assert.NoError(t, r.Bind("s2", identity))

	r.EmitToIdentity(identity, "receive_message", map[string]string{"body": "hi"})

	assert.Equal(t, []string{"receive_message"}, phone.received())
	assert.Equal(t, []string{"receive_message"}, laptop.received())
}

func TestEmitToIdentity_DoesNotReachOtherIdentities(t *testing.T) {
	r := NewInMemory()
	alice := uuid.New()
	bob := uuid.New()

	aliceConn := &fakeTransport{}
	bobConn := &fakeTransport{}
	r.Register("a", aliceConn)
	r.Register("b", bobConn)
	assert.NoError(t, r.Bind("a", alice))
	assert.NoError(t, r.Bind("b", bob))

	r.EmitToIdentity(bob, "receive_message", nil)

	assert.Empty(t, aliceConn.received())
	assert.Equal(t, []string{"receive_message"}, bobConn.received())
}

func TestEmitToIdentity_NoSessionsIsSilent(t *testing.T) {
	r := NewInMemory()

	assert.NotPanics(t, func() {
		r.EmitToIdentity(uuid.New(), "receive_message", nil)
	})
}

func TestEmitToIdentity_UnregisteredSessionNotReached(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	conn := &fakeTransport{}
	r.Register("s1", conn)
	assert.NoError(t, r.Bind("s1", identity))
	r.Unregister("s1")

	r.EmitToIdentity(identity, "receive_message", nil)

	assert.Empty(t, conn.received())
}

func TestEmitToScope(t *testing.T) {
	r := NewInMemory()

	in := &fakeTransport{}
	out := &fakeTransport{}
	r.Register("in", in)
	r.Register("out", out)
	assert.NoError(t, r.Bind("in", uuid.New()))
	assert.NoError(t, r.Bind("out", uuid.New()))

	r.JoinScope("in", "call_123")
	r.EmitToScope("call_123", "receive_offer", nil)

	assert.Equal(t, []string{"receive_offer"}, in.received())
	assert.Empty(t, out.received())

	r.LeaveScope("in", "call_123")
	r.EmitToScope("call_123", "receive_offer", nil)

	assert.Len(t, in.received(), 1)
}

func TestBind_SetOnce(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	r.Register("s1", &fakeTransport{})
	assert.NoError(t, r.Bind("s1", identity))
	assert.NoError(t, r.Bind("s1", identity)) // same identity is idempotent
	assert.Error(t, r.Bind("s1", uuid.New()))
	assert.Error(t, r.Bind("missing", identity))
}

func TestRegister_IdempotentPerSessionID(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	first := &fakeTransport{}
	r.Register("s1", first)
	r.Register("s1", &fakeTransport{}) // ignored
	assert.NoError(t, r.Bind("s1", identity))

	r.EmitToIdentity(identity, "ping", nil)

	assert.Equal(t, []string{"ping"}, first.received())
}

func TestUnregister_Idempotent(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	calls := 0
	r.OnTeardown(func(sessionID string, id uuid.UUID, last bool) {
		calls++
	})

	r.Register("s1", &fakeTransport{})
	assert.NoError(t, r.Bind("s1", identity))

	r.Unregister("s1")
	r.Unregister("s1")
	r.Unregister("never-existed")

	assert.Equal(t, 1, calls)
}

func TestTeardown_LastSessionFlag(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	type teardown struct {
		sessionID string
		last      bool
	}
	var seen []teardown
	r.OnTeardown(func(sessionID string, id uuid.UUID, last bool) {
		assert.Equal(t, identity, id)
		seen = append(seen, teardown{sessionID, last})
	})

	r.Register("s1", &fakeTransport{})
	r.Register("s2", &fakeTransport{})
	assert.NoError(t, r.Bind("s1", identity))
	assert.NoError(t, r.Bind("s2", identity))
	assert.Equal(t, 2, r.SessionCount(identity))

	r.Unregister("s1")
	r.Unregister("s2")

	assert.Equal(t, []teardown{{"s1", false}, {"s2", true}}, seen)
	assert.Equal(t, 0, r.SessionCount(identity))
}

func TestTeardown_UnboundSessionNoObserver(t *testing.T) {
	r := NewInMemory()

	calls := 0
	r.OnTeardown(func(string, uuid.UUID, bool) { calls++ })

	r.Register("s1", &fakeTransport{})
	r.Unregister("s1")

	assert.Zero(t, calls)
}

func TestEmit_DeadTransportFailsSilently(t *testing.T) {
	r := NewInMemory()
	identity := uuid.New()

	dead := &fakeTransport{failed: true}
	alive := &fakeTransport{}
	r.Register("dead", dead)
	r.Register("alive", alive)
	assert.NoError(t, r.Bind("dead", identity))
	assert.NoError(t, r.Bind("alive", identity))

	assert.NotPanics(t, func() {
		r.EmitToIdentity(identity, "receive_message", nil)
	})
	assert.Equal(t, []string{"receive_message"}, alive.received())
}

func TestUnregister_RemovesScopeMemberships(t *testing.T) {
	r := NewInMemory()

	conn := &fakeTransport{}
	r.Register("s1", conn)
	assert.NoError(t, r.Bind("s1", uuid.New()))
	r.JoinScope("s1", "call_9")

	r.Unregister("s1")
	r.EmitToScope("call_9", "receive_offer", nil)

	assert.Empty(t, conn.received())
}
