package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"counselconnect-backend/internal/domain"
	apperrors "counselconnect-backend/pkg/errors"
	"counselconnect-backend/pkg/metrics"
)

// Repository defines the persistence contract for call records.
// UpdateIfStatus must apply the update only when the stored status still
// equals expected, returning domain.ErrStatusConflict otherwise.
type Repository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateIfStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error
	ListByParticipant(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// Service is the sole write path for call records. All writes to a single
// call id are serialized: a per-id mutex around read-modify-write, backed by
// a compare-and-set in the repository.
type Service struct {
	repo  Repository
	locks keyedMutex
}

// NewService creates a new call record service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create records a new call attempt with status pending
func (s *Service) Create(ctx context.Context, callerID, receiverID uuid.UUID, callType domain.CallType) (*domain.Call, error) {
	if !callType.Valid() {
		return nil, apperrors.ValidationError("call_type must be audio or video")
	}
	if callerID == uuid.Nil || receiverID == uuid.Nil {
		return nil, apperrors.ValidationError("caller and receiver are required")
	}
	if callerID == receiverID {
		return nil, apperrors.ValidationError("caller and receiver must differ")
	}

	call := &domain.Call{
		CallID:     uuid.New(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     domain.CallStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, call); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	metrics.CallsCreatedTotal.WithLabelValues(string(callType)).Inc()

	return call, nil
}

// UpdateStatus transitions a call to a new status on behalf of a participant,
// performing the associated timestamp and duration side effects.
// Start time is set exactly once, on pending -> accepted. End time and
// duration are set exactly once, on transition into ended; duration is 0
// when the call was never accepted.
func (s *Service) UpdateStatus(ctx context.Context, callID uuid.UUID, next domain.CallStatus, byIdentity uuid.UUID) (*domain.Call, error) {
	if !next.Valid() {
		return nil, apperrors.ValidationError("invalid status value")
	}

	unlock := s.locks.lock(callID)
	defer unlock()

	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		if err == domain.ErrCallNotFound {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	if !call.IsParticipant(byIdentity) {
		return nil, apperrors.ForbiddenError("Not a participant of this call")
	}

	prev := call.Status
	if !prev.CanTransitionTo(next) {
		return nil, apperrors.InvalidTransitionError(string(prev), string(next))
	}

	now := time.Now().UTC()
	call.Status = next

	switch next {
	case domain.CallStatusAccepted:
		if call.StartedAt == nil {
			call.StartedAt = &now
		}
	case domain.CallStatusEnded:
		call.EndedAt = &now
		if call.StartedAt != nil {
			call.Duration = int(now.Sub(*call.StartedAt) / time.Second)
		}
	}

	if err := s.repo.UpdateIfStatus(ctx, call, prev); err != nil {
		if err == domain.ErrStatusConflict {
			// A concurrent transition got there first
			fresh, ferr := s.repo.GetByID(ctx, callID)
			from := string(prev)
			if ferr == nil {
				from = string(fresh.Status)
			}
			return nil, apperrors.InvalidTransitionError(from, string(next))
		}
		if err == domain.ErrCallNotFound {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	metrics.CallTransitionsTotal.WithLabelValues(string(next)).Inc()
	if next == domain.CallStatusEnded {
		metrics.CallDurationSeconds.Observe(float64(call.Duration))
	}

	return call, nil
}

// Get retrieves a call by id
func (s *Service) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		if err == domain.ErrCallNotFound {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return call, nil
}

// History returns all calls where the identity is caller or receiver,
// newest first
func (s *Service) History(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	calls, err := s.repo.ListByParticipant(ctx, identity, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return calls, nil
}

// keyedMutex serializes access per call id. Entries are reference counted
// so the table does not grow with call history.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[uuid.UUID]*lockEntry)
	}
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
