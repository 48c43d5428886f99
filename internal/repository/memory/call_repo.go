// Package memory provides in-memory repository implementations, used in
// tests and as the degraded-mode fallback when CockroachDB is unreachable.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"counselconnect-backend/internal/domain"
)

// CallRepository stores call records in a lock-protected map
type CallRepository struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]domain.Call
}

// NewCallRepository creates an empty in-memory call repository
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls: make(map[uuid.UUID]domain.Call),
	}
}

// Create inserts a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[call.CallID] = *call
	return nil
}

// GetByID retrieves a call by id
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	out := call
	return &out, nil
}

// UpdateIfStatus applies the update only when the stored status still
// equals expected
func (r *CallRepository) UpdateIfStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.calls[call.CallID]
	if !ok {
		return domain.ErrCallNotFound
	}
	if current.Status != expected {
		return domain.ErrStatusConflict
	}

	r.calls[call.CallID] = *call
	return nil
}

// ListByParticipant retrieves all calls where the identity is caller or
// receiver, newest first
func (r *CallRepository) ListByParticipant(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var calls []*domain.Call
	for id := range r.calls {
		call := r.calls[id]
		if call.CallerID == identity || call.ReceiverID == identity {
			out := call
			calls = append(calls, &out)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if offset >= len(calls) {
		return nil, nil
	}
	calls = calls[offset:]
	if limit > 0 && limit < len(calls) {
		calls = calls[:limit]
	}

	return calls, nil
}
