package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/metrics"
)

// Transport is the write side of one live connection. Send failures are
// swallowed by the registry: a dead transport is not the emitter's problem.
type Transport interface {
	Send(event string, payload interface{}) error
	Close() error
}

// TeardownFunc is notified after a session is unregistered. lastSession is
// true when no other live session remains bound to the same identity.
type TeardownFunc func(sessionID string, identity uuid.UUID, lastSession bool)

// Registry maps durable identities to zero or more live transport sessions
// and supports named scopes for targeted fan-out (per-call rooms).
type Registry interface {
	// Register creates a session with no identity bound; idempotent per session id.
	Register(sessionID string, transport Transport)

	// Bind associates a session with an identity. A session is bound exactly
	// once; rebinding to a different identity is an error.
	Bind(sessionID string, identity uuid.UUID) error

	// JoinScope adds a session to a named scope.
	JoinScope(sessionID, scope string)

	// LeaveScope removes a session from a named scope.
	LeaveScope(sessionID, scope string)

	// Identity returns the identity bound to a session, if any.
	Identity(sessionID string) (uuid.UUID, bool)

	// SessionCount returns the number of live sessions bound to an identity.
	SessionCount(identity uuid.UUID) int

	// EmitToIdentity delivers to every live session bound to the identity.
	// Silently a no-op when the identity has no live sessions.
	EmitToIdentity(identity uuid.UUID, event string, payload interface{})

	// EmitToScope delivers to every session currently joined to the scope.
	EmitToScope(scope, event string, payload interface{})

	// Unregister removes the session from all scopes and its identity
	// binding, then fires teardown observers. Idempotent.
	Unregister(sessionID string)

	// OnTeardown subscribes an observer to session teardown.
	OnTeardown(fn TeardownFunc)
}

type session struct {
	id        string
	transport Transport
	identity  uuid.UUID
	bound     bool
	scopes    map[string]struct{}
}

// InMemory is the lock-protected, in-process Registry implementation.
type InMemory struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	identities map[uuid.UUID]map[string]*session
	scopes     map[string]map[string]*session
	teardown   []TeardownFunc
}

// NewInMemory creates an empty in-memory registry
func NewInMemory() *InMemory {
	return &InMemory{
		sessions:   make(map[string]*session),
		identities: make(map[uuid.UUID]map[string]*session),
		scopes:     make(map[string]map[string]*session),
	}
}

// Register implements Registry
func (r *InMemory) Register(sessionID string, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return
	}
	r.sessions[sessionID] = &session{
		id:        sessionID,
		transport: transport,
		scopes:    make(map[string]struct{}),
	}
}

// Bind implements Registry
func (r *InMemory) Bind(sessionID string, identity uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	if s.bound {
		if s.identity == identity {
			return nil
		}
		return fmt.Errorf("session %s already bound to another identity", sessionID)
	}

	s.identity = identity
	s.bound = true

	if r.identities[identity] == nil {
		r.identities[identity] = make(map[string]*session)
	}
	r.identities[identity][sessionID] = s

	return nil
}

// JoinScope implements Registry
func (r *InMemory) JoinScope(sessionID, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.scopes[scope] = struct{}{}

	if r.scopes[scope] == nil {
		r.scopes[scope] = make(map[string]*session)
	}
	r.scopes[scope][sessionID] = s
}

// LeaveScope implements Registry
func (r *InMemory) LeaveScope(sessionID, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.scopes, scope)
	r.removeFromScope(sessionID, scope)
}

// Identity implements Registry
func (r *InMemory) Identity(sessionID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok || !s.bound {
		return uuid.Nil, false
	}
	return s.identity, true
}

// SessionCount implements Registry
func (r *InMemory) SessionCount(identity uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.identities[identity])
}

// EmitToIdentity implements Registry
func (r *InMemory) EmitToIdentity(identity uuid.UUID, event string, payload interface{}) {
	r.mu.RLock()
	targets := make([]Transport, 0, len(r.identities[identity]))
	for _, s := range r.identities[identity] {
		targets = append(targets, s.transport)
	}
	r.mu.RUnlock()

	metrics.RegistryEmitsTotal.WithLabelValues("identity").Inc()
	if len(targets) == 0 {
		metrics.RegistryEmitNoSessionTotal.Inc()
		return
	}
	r.deliver(targets, event, payload)
}

// EmitToScope implements Registry
func (r *InMemory) EmitToScope(scope, event string, payload interface{}) {
	r.mu.RLock()
	targets := make([]Transport, 0, len(r.scopes[scope]))
	for _, s := range r.scopes[scope] {
		targets = append(targets, s.transport)
	}
	r.mu.RUnlock()

	metrics.RegistryEmitsTotal.WithLabelValues("scope").Inc()
	r.deliver(targets, event, payload)
}

// Unregister implements Registry
func (r *InMemory) Unregister(sessionID string) {
	r.mu.Lock()

	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	for scope := range s.scopes {
		r.removeFromScope(sessionID, scope)
	}
	delete(r.sessions, sessionID)

	var identity uuid.UUID
	bound := s.bound
	lastSession := false
	if bound {
		identity = s.identity
		owned := r.identities[identity]
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(r.identities, identity)
			lastSession = true
		}
	}

	observers := make([]TeardownFunc, len(r.teardown))
	copy(observers, r.teardown)
	r.mu.Unlock()

	if !bound {
		return
	}
	for _, fn := range observers {
		fn(sessionID, identity, lastSession)
	}
}

// OnTeardown implements Registry
func (r *InMemory) OnTeardown(fn TeardownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardown = append(r.teardown, fn)
}

// deliver fans out to the given transports, outside the registry lock.
// Delivery is fire-and-forget: a closed transport fails silently.
func (r *InMemory) deliver(targets []Transport, event string, payload interface{}) {
	for _, t := range targets {
		if err := t.Send(event, payload); err != nil {
			logger.Debug("Dropped emit to dead transport",
				zap.String("event", event),
				zap.Error(err))
		}
	}
}

// removeFromScope assumes r.mu is held
func (r *InMemory) removeFromScope(sessionID, scope string) {
	members, ok := r.scopes[scope]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.scopes, scope)
	}
}
