package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"counselconnect-backend/internal/domain"
)

// MessageRepository handles chat message storage in Cassandra.
// Messages are partitioned by the canonical pair key of the two
// participants, so both directions of a 1:1 conversation share a partition.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message
func (r *MessageRepository) Save(ctx context.Context, message *domain.ChatMessage) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	var bucket, object, contentType string
	var size int64
	if message.Attachment != nil {
		bucket = message.Attachment.Bucket
		object = message.Attachment.Object
		contentType = message.Attachment.ContentType
		size = message.Attachment.Size
	}

	query := `
		INSERT INTO messages (
			pair_key, created_at, message_id, sender_id, receiver_id, body,
			attachment_bucket, attachment_object, attachment_content_type, attachment_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		domain.PairKey(message.SenderID, message.ReceiverID),
		message.CreatedAt,
		message.MessageID,
		message.SenderID,
		message.ReceiverID,
		message.Body,
		bucket,
		object,
		contentType,
		size,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetHistory retrieves the most recent messages between two identities,
// returned oldest first
func (r *MessageRepository) GetHistory(ctx context.Context, a, b uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	query := `
		SELECT created_at, message_id, sender_id, receiver_id, body,
		       attachment_bucket, attachment_object, attachment_content_type, attachment_size
		FROM messages
		WHERE pair_key = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	iter := r.session.Query(query, domain.PairKey(a, b), limit).WithContext(ctx).Iter()

	var messages []*domain.ChatMessage
	for {
		message := &domain.ChatMessage{}
		var bucket, object, contentType string
		var size int64
		if !iter.Scan(
			&message.CreatedAt,
			&message.MessageID,
			&message.SenderID,
			&message.ReceiverID,
			&message.Body,
			&bucket,
			&object,
			&contentType,
			&size,
		) {
			break
		}
		if object != "" {
			message.Attachment = &domain.Attachment{
				Bucket:      bucket,
				Object:      object,
				ContentType: contentType,
				Size:        size,
			}
		}
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get message history: %w", err)
	}

	// Query returns newest first; history reads oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
