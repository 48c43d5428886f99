package call

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"counselconnect-backend/internal/domain"
	"counselconnect-backend/internal/repository/memory"
	apperrors "counselconnect-backend/pkg/errors"
)

func newTestService() *Service {
	return NewService(memory.NewCallRepository())
}

func TestCreate(t *testing.T) {
	service := newTestService()
	caller := uuid.New()
	receiver := uuid.New()

	call, err := service.Create(context.Background(), caller, receiver, domain.CallTypeVideo)

	assert.NoError(t, err)
	assert.NotNil(t, call)
	assert.Equal(t, domain.CallStatusPending, call.Status)
	assert.Equal(t, caller, call.CallerID)
	assert.Equal(t, receiver, call.ReceiverID)
	assert.Nil(t, call.StartedAt)
	assert.Nil(t, call.EndedAt)
	assert.Zero(t, call.Duration)
}

func TestCreate_InvalidKind(t *testing.T) {
	service := newTestService()

	call, err := service.Create(context.Background(), uuid.New(), uuid.New(), domain.CallType("screen"))

	assert.Nil(t, call)
	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetAppError(err).Code)
}

func TestCreate_CallerEqualsReceiver(t *testing.T) {
	service := newTestService()
	identity := uuid.New()

	call, err := service.Create(context.Background(), identity, identity, domain.CallTypeAudio)

	assert.Nil(t, call)
	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetAppError(err).Code)
}

func TestUpdateStatus_AcceptSetsStartTime(t *testing.T) {
	service := newTestService()
	caller := uuid.New()
	receiver := uuid.New()
	ctx := context.Background()

	created, err := service.Create(ctx, caller, receiver, domain.CallTypeVideo)
	assert.NoError(t, err)

	accepted, err := service.UpdateStatus(ctx, created.CallID, domain.CallStatusAccepted, receiver)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusAccepted, accepted.Status)
	assert.NotNil(t, accepted.StartedAt)
	assert.Nil(t, accepted.EndedAt)
}

func TestUpdateStatus_EndComputesDuration(t *testing.T) {
	service := newTestService()
	caller := uuid.New()
	receiver := uuid.New()
	ctx := context.Background()

	created, err := service.Create(ctx, caller, receiver, domain.CallTypeAudio)
	assert.NoError(t, err)

	accepted, err := service.UpdateStatus(ctx, created.CallID, domain.CallStatusAccepted, receiver)
	assert.NoError(t, err)

	ended, err := service.UpdateStatus(ctx, created.CallID, domain.CallStatusEnded, caller)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)
	assert.Equal(t, int(ended.EndedAt.Sub(*accepted.StartedAt)/time.Second), ended.Duration)
	assert.GreaterOrEqual(t, ended.Duration, 0)
}

func TestUpdateStatus_EndBeforeAcceptZeroDuration(t *testing.T) {
	service := newTestService()
	caller := uuid.New()
	receiver := uuid.New()
	ctx := context.Background()

	created, err := service.Create(ctx, caller, receiver, domain.CallTypeVideo)
	assert.NoError(t, err)

	ended, err := service.UpdateStatus(ctx, created.CallID, domain.CallStatusEnded, caller)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	assert.Nil(t, ended.StartedAt)
	assert.Zero(t, ended.Duration)
}

func TestUpdateStatus_Reject(t *testing.T) {
	service := newTestService()
	caller := uuid.New()
	receiver := uuid.New()
	ctx := context.Background()

	created, err := service.Create(ctx, caller, receiver, domain.CallTypeVideo)
	assert.NoError(t, err)

	rejected, err := service.UpdateStatus(ctx, created.CallID, domain.CallStatusRejected, receiver)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, rejected.Status)
	assert.Nil(t, rejected.StartedAt)
	assert.Zero(t, rejected.Duration)
}

func TestUpdateStatus_UnknownCall(t *testing.T) {
	service := newTestService()

	call, err := service.UpdateStatus(context.Background(), uuid.New(), domain.CallStatusAccepted, uuid.New())

	assert.Nil(t, call)
	assert.Equal(t, apperrors.ErrCodeCallNotFound, apperrors.GetAppError(err).Code)
}

func TestUpdateStatus_NonParticipantForbidden(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	created, err := service.Create(ctx, uuid.New(), uuid.New(), domain.CallTypeVideo)
	assert.NoError(t, err)

	call, err := service.UpdateStatus(ctx, created.CallID, domain.CallStatusAccepted, uuid.New())

	assert.Nil(t, call)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
}

func TestUpdateStatus_NoBackwardTransitions(t *testing.T) {
	illegal := map[domain.CallStatus][]domain.CallStatus{
		domain.CallStatusPending:  {domain.CallStatusPending},
		domain.CallStatusAccepted: {domain.CallStatusPending, domain.CallStatusAccepted, domain.CallStatusRejected},
		domain.CallStatusRejected: {domain.CallStatusPending, domain.CallStatusAccepted, domain.CallStatusRejected, domain.CallStatusEnded},
		domain.CallStatusEnded:    {domain.CallStatusPending, domain.CallStatusAccepted, domain.CallStatusRejected, domain.CallStatusEnded},
	}

	for from, targets := range illegal {
		for _, to := range targets {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s must be illegal", from, to)
		}
	}
}

// Random sequences of transitions: a call may only ever move forward, and
// once terminal it accepts nothing.
func TestUpdateStatus_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []domain.CallStatus{
		domain.CallStatusPending,
		domain.CallStatusAccepted,
		domain.CallStatusRejected,
		domain.CallStatusEnded,
	}

	for i := 0; i < 50; i++ {
		service := newTestService()
		caller := uuid.New()
		receiver := uuid.New()
		ctx := context.Background()

		created, err := service.Create(ctx, caller, receiver, domain.CallTypeAudio)
		assert.NoError(t, err)

		current := domain.CallStatusPending
		for j := 0; j < 10; j++ {
			next := statuses[rng.Intn(len(statuses))]
			updated, err := service.UpdateStatus(ctx, created.CallID, next, receiver)

			if current.CanTransitionTo(next) {
				assert.NoError(t, err)
				current = updated.Status
			} else {
				assert.Error(t, err)
				code := apperrors.GetAppError(err).Code
				assert.Contains(t,
					[]apperrors.ErrorCode{apperrors.ErrCodeInvalidTransition, apperrors.ErrCodeValidation},
					code)
			}

			stored, err := service.Get(ctx, created.CallID)
			assert.NoError(t, err)
			assert.Equal(t, current, stored.Status)
		}
	}
}

// Two racing updates through the same transition: exactly one may win.
func TestUpdateStatus_ConcurrentSameTransition(t *testing.T) {
	for i := 0; i < 20; i++ {
		service := newTestService()
		caller := uuid.New()
		receiver := uuid.New()
		ctx := context.Background()

		created, err := service.Create(ctx, caller, receiver, domain.CallTypeVideo)
		assert.NoError(t, err)
		_, err = service.UpdateStatus(ctx, created.CallID, domain.CallStatusAccepted, receiver)
		assert.NoError(t, err)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for n := 0; n < 2; n++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, results[n] = service.UpdateStatus(ctx, created.CallID, domain.CallStatusEnded, caller)
			}(n)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
			}
		}
		assert.Equal(t, 1, succeeded, "exactly one end transition must win")
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	service := newTestService()
	me := uuid.New()
	ctx := context.Background()

	first, err := service.Create(ctx, me, uuid.New(), domain.CallTypeAudio)
	assert.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := service.Create(ctx, uuid.New(), me, domain.CallTypeVideo)
	assert.NoError(t, err)

	// A call not involving me must not show up
	_, err = service.Create(ctx, uuid.New(), uuid.New(), domain.CallTypeAudio)
	assert.NoError(t, err)

	history, err := service.History(ctx, me, 10, 0)

	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, second.CallID, history[0].CallID)
	assert.Equal(t, first.CallID, history[1].CallID)
}
