package domain

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a structured reference to an object uploaded to the
// attachment store. The relay treats it as opaque payload.
type Attachment struct {
	Bucket      string `json:"bucket"`
	Object      string `json:"object"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ChatMessage represents a chat message between two identities.
// Immutable once created. Persistence and live delivery are independent
// side effects of the same send: neither blocks or rolls back the other.
type ChatMessage struct {
	MessageID  uuid.UUID   `json:"message_id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	ReceiverID uuid.UUID   `json:"receiver_id"`
	Body       string      `json:"body"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// PairKey returns the canonical partition key for a 1:1 conversation:
// the two identities in lexicographic order. Both directions of the
// exchange land in the same partition.
func PairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as < bs {
		return as + ":" + bs
	}
	return bs + ":" + as
}
