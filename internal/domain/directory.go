package domain

import (
	"context"

	"github.com/google/uuid"
)

// Directory resolves display names for identities. Identity records are
// owned by the account service; this service only reads them to decorate
// notifications.
type Directory interface {
	DisplayName(ctx context.Context, id uuid.UUID) (string, error)
}
