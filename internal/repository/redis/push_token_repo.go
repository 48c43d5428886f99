package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"counselconnect-backend/pkg/constants"
	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/push"
)

// PushTokenRepository stores push notification tokens in Redis.
// Token records live under push:token:{token}; each identity keeps a set of
// its token values under push:identity:{id}:tokens.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new PushTokenRepository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

// Store saves a push token and indexes it under its owner
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tokenKey := fmt.Sprintf("push:token:%s", token.Token)
	if err := r.client.Set(ctx, tokenKey, data, constants.PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	setKey := fmt.Sprintf("push:identity:%s:tokens", token.UserID)
	if err := r.client.SAdd(ctx, setKey, token.Token).Err(); err != nil {
		return fmt.Errorf("failed to index token: %w", err)
	}
	if err := r.client.Expire(ctx, setKey, constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on token set",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	return nil
}

// GetByUserID returns every known token for an identity. Tokens whose record
// expired are pruned from the index as they are encountered.
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	setKey := fmt.Sprintf("push:identity:%s:tokens", userID)
	values, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get identity tokens: %w", err)
	}

	var result []*push.Token
	for _, value := range values {
		token, err := r.getByToken(ctx, value)
		if err != nil {
			logger.Warn("Failed to load push token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if token == nil {
			r.client.SRem(ctx, setKey, value)
			continue
		}
		result = append(result, token)
	}
	return result, nil
}

// MarkInactive deactivates a token by value, typically after the provider
// reported it unregistered
func (r *PushTokenRepository) MarkInactive(ctx context.Context, tokenValue string) error {
	token, err := r.getByToken(ctx, tokenValue)
	if err != nil {
		return err
	}
	if token == nil {
		return nil
	}

	token.Active = false
	token.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tokenKey := fmt.Sprintf("push:token:%s", tokenValue)
	if err := r.client.Set(ctx, tokenKey, data, constants.PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

func (r *PushTokenRepository) getByToken(ctx context.Context, tokenValue string) (*push.Token, error) {
	tokenKey := fmt.Sprintf("push:token:%s", tokenValue)
	data, err := r.client.Get(ctx, tokenKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token push.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}
