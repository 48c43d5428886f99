package push

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/metrics"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
}

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines the interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	MarkInactive(ctx context.Context, token string) error
}

// Service sends best-effort push notifications to identities with no live
// sessions. Failures are logged and counted, never propagated: real-time
// delivery does not depend on push.
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, userID uuid.UUID, tokenValue, platform string) error {
	now := time.Now().Unix()
	return s.repo.Store(ctx, &Token{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     tokenValue,
		Platform:  platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// NotifyIncomingCall alerts an offline user about an incoming call
func (s *Service) NotifyIncomingCall(ctx context.Context, userID uuid.UUID, callerName, callType string, callID uuid.UUID) {
	title := "Incoming " + callType + " call"
	s.notify(ctx, userID, "call", &Notification{
		Title:    title,
		Body:     callerName + " is calling you",
		Priority: "high",
		Data: map[string]string{
			"call_id":   callID.String(),
			"call_type": callType,
		},
	})
}

// NotifyMessage alerts an offline user about a new chat message
func (s *Service) NotifyMessage(ctx context.Context, userID uuid.UUID, senderName string) {
	s.notify(ctx, userID, "message", &Notification{
		Title: "New message",
		Body:  senderName + " sent you a message",
	})
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, kind string, notification *Notification) {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load push tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		metrics.PushNotificationsTotal.WithLabelValues(kind, "error").Inc()
		return
	}

	values := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Active {
			values = append(values, t.Token)
		}
	}
	if len(values) == 0 {
		metrics.PushNotificationsTotal.WithLabelValues(kind, "no_token").Inc()
		return
	}

	result, err := s.provider.Send(ctx, notification, values)
	if err != nil {
		logger.Warn("Push notification send failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		metrics.PushNotificationsTotal.WithLabelValues(kind, "error").Inc()
		return
	}

	for _, invalid := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, invalid); err != nil {
			logger.Debug("Failed to deactivate push token", zap.Error(err))
		}
	}

	metrics.PushNotificationsTotal.WithLabelValues(kind, "ok").Inc()
}

// MockProvider is a no-op provider for development and tests
type MockProvider struct{}

// Send implements Provider, logging instead of delivering
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	logger.Debug("Mock push notification",
		zap.String("title", notification.Title),
		zap.Int("tokens", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
