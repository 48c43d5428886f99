package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"

	"counselconnect-backend/internal/domain"
)

// CallRepository persists call records in CockroachDB
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, caller_id, receiver_id, call_type, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.CallerID,
		call.ReceiverID,
		call.CallType,
		call.Status,
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by id
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, call_type, status,
		       created_at, started_at, ended_at, duration
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.CallType,
		&call.Status,
		&call.CreatedAt,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// UpdateIfStatus updates a call's status and timestamps only if the stored
// status still equals expected. The WHERE clause is the compare-and-set:
// concurrent transitions on the same call cannot both pass it.
func (r *CallRepository) UpdateIfStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2, started_at = $3, ended_at = $4, duration = $5
		WHERE call_id = $1 AND status = $6
	`

	tag, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.Status,
		call.StartedAt,
		call.EndedAt,
		call.Duration,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the id is unknown or the status moved under us
		if _, err := r.GetByID(ctx, call.CallID); err != nil {
			return err
		}
		return domain.ErrStatusConflict
	}

	return nil
}

// ListByParticipant retrieves all calls where the identity is caller or
// receiver, newest first
func (r *CallRepository) ListByParticipant(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT call_id, caller_id, receiver_id, call_type, status,
		       created_at, started_at, ended_at, duration
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.CallID,
			&call.CallerID,
			&call.ReceiverID,
			&call.CallType,
			&call.Status,
			&call.CreatedAt,
			&call.StartedAt,
			&call.EndedAt,
			&call.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}
