package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"counselconnect-backend/pkg/response"
)

// Checker answers whether an identity is currently online.
type Checker interface {
	IsOnline(ctx context.Context, identity uuid.UUID) (bool, error)
	GetOnline(ctx context.Context) ([]uuid.UUID, error)
}

// Handler handles presence HTTP requests
type Handler struct {
	checker Checker
}

// NewHandler creates a new presence handler
func NewHandler(checker Checker) *Handler {
	return &Handler{checker: checker}
}

// Get reports whether an identity has at least one live session
// GET /v1/presence/:userId
func (h *Handler) Get(c *gin.Context) {
	identity, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	online, err := h.checker.IsOnline(c.Request.Context(), identity)
	if err != nil {
		response.InternalError(c, "Failed to check presence")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id": identity,
		"online":  online,
	})
}

// List returns every identity with at least one live session
// GET /v1/presence
func (h *Handler) List(c *gin.Context) {
	online, err := h.checker.GetOnline(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to list presence")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"online": online,
	})
}
