// Package chat implements the message relay: messages are delivered to the
// receiver's live sessions immediately and persisted in the background, so a
// slow or failing history store never delays delivery.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"counselconnect-backend/internal/domain"
	"counselconnect-backend/internal/protocol"
	"counselconnect-backend/internal/registry"
	"counselconnect-backend/pkg/constants"
	apperrors "counselconnect-backend/pkg/errors"
	"counselconnect-backend/pkg/logger"
	"counselconnect-backend/pkg/metrics"
	"counselconnect-backend/pkg/push"
)

// MessageRepository persists chat messages and serves history.
type MessageRepository interface {
	Save(ctx context.Context, msg *domain.ChatMessage) error
	GetHistory(ctx context.Context, a, b uuid.UUID, limit int) ([]*domain.ChatMessage, error)
}

// Service relays messages between identities.
type Service struct {
	messages MessageRepository
	reg      registry.Registry
	push     *push.Service
	dir      domain.Directory

	persistTimeout time.Duration
}

func NewService(messages MessageRepository, reg registry.Registry, pushSvc *push.Service, dir domain.Directory) *Service {
	return &Service{
		messages:       messages,
		reg:            reg,
		push:           pushSvc,
		dir:            dir,
		persistTimeout: constants.MessagePersistTimeout,
	}
}

// Send delivers a message to the receiver's live sessions and schedules
// persistence. It returns once delivery has been handed to the registry;
// persistence runs in the background and its failure is logged, never
// surfaced to the sender.
func (s *Service) Send(ctx context.Context, sender, receiver uuid.UUID, body string, attachment *domain.Attachment) (*domain.ChatMessage, error) {
	if sender == uuid.Nil || receiver == uuid.Nil {
		return nil, apperrors.ValidationError("sender and receiver are required")
	}
	if sender == receiver {
		return nil, apperrors.ValidationError("cannot send a message to yourself")
	}
	if body == "" && attachment == nil {
		return nil, apperrors.ValidationError("message body or attachment is required")
	}

	msg := &domain.ChatMessage{
		MessageID:  uuid.New(),
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		Attachment: attachment,
		CreatedAt:  time.Now().UTC(),
	}

	s.reg.EmitToIdentity(receiver, protocol.EventReceiveMessage, protocol.ReceiveMessage{
		Sender:     msg.SenderID,
		Receiver:   msg.ReceiverID,
		Body:       msg.Body,
		Attachment: msg.Attachment,
		CreatedAt:  msg.CreatedAt,
	})
	metrics.MessagesRelayedTotal.Inc()

	if s.push != nil && s.reg.SessionCount(receiver) == 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
			defer cancel()
			s.push.NotifyMessage(ctx, receiver, s.displayName(ctx, sender))
		}()
	}

	go s.persist(msg)

	return msg, nil
}

func (s *Service) persist(msg *domain.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	if err := s.messages.Save(ctx, msg); err != nil {
		metrics.MessagePersistTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to persist chat message",
			zap.String("message_id", msg.MessageID.String()),
			zap.String("sender_id", msg.SenderID.String()),
			zap.String("receiver_id", msg.ReceiverID.String()),
			zap.Error(err))
		return
	}
	metrics.MessagePersistTotal.WithLabelValues("ok").Inc()
}

func (s *Service) displayName(ctx context.Context, id uuid.UUID) string {
	if s.dir == nil {
		return "Someone"
	}
	name, err := s.dir.DisplayName(ctx, id)
	if err != nil || name == "" {
		return "Someone"
	}
	return name
}

// GetHistory returns the conversation between two identities, oldest first.
func (s *Service) GetHistory(ctx context.Context, a, b uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return nil, apperrors.ValidationError("both participants are required")
	}
	if limit <= 0 {
		limit = constants.MessageHistoryDefaultLimit
	}
	if limit > constants.MessageHistoryMaxLimit {
		limit = constants.MessageHistoryMaxLimit
	}

	msgs, err := s.messages.GetHistory(ctx, a, b, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return msgs, nil
}
