package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"counselconnect-backend/pkg/constants"
)

// PresenceRepository tracks which identities currently hold at least one live
// session. Entries expire on their own, so stale presence from a crashed
// instance clears without intervention.
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetOnline marks an identity as online
func (r *PresenceRepository) SetOnline(ctx context.Context, identity uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", identity)

	if err := r.client.Set(ctx, key, "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	if err := r.client.SAdd(ctx, "presence:online", identity.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}
	return nil
}

// SetOffline marks an identity as offline
func (r *PresenceRepository) SetOffline(ctx context.Context, identity uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", identity)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SRem(ctx, "presence:online", identity.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// IsOnline reports whether an identity is currently online
func (r *PresenceRepository) IsOnline(ctx context.Context, identity uuid.UUID) (bool, error) {
	key := fmt.Sprintf("presence:%s", identity)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// Refresh extends the presence TTL (heartbeat)
func (r *PresenceRepository) Refresh(ctx context.Context, identity uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", identity)

	if err := r.client.Expire(ctx, key, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnline lists the identities currently online. Members whose presence
// key has expired (crashed instance, missed heartbeats) are pruned from the
// set as they are encountered.
func (r *PresenceRepository) GetOnline(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online identities: %w", err)
	}

	identities := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		identity, err := uuid.Parse(member)
		if err != nil {
			r.client.SRem(ctx, "presence:online", member)
			continue
		}
		exists, err := r.client.Exists(ctx, fmt.Sprintf("presence:%s", identity)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check presence: %w", err)
		}
		if exists == 0 {
			r.client.SRem(ctx, "presence:online", member)
			continue
		}
		identities = append(identities, identity)
	}
	return identities, nil
}
