package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"counselconnect-backend/internal/domain"
	"counselconnect-backend/internal/service/call"
	"counselconnect-backend/pkg/constants"
	"counselconnect-backend/pkg/response"
)

// Handler handles call record HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{callService: callService}
}

// CreateCallRequest represents call creation request
type CreateCallRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
	CallType   string `json:"call_type" binding:"required,oneof=audio video"`
}

// Create records a new pending call
// POST /v1/calls
func (h *Handler) Create(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := identityFrom(c)
	if !ok {
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	record, err := h.callService.Create(c.Request.Context(), callerID, receiverID, domain.CallType(req.CallType))
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, record)
}

// UpdateStatusRequest represents a call status change
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=accepted rejected ended"`
}

// UpdateStatus transitions a call to a new status
// PUT /v1/calls/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	identity, ok := identityFrom(c)
	if !ok {
		return
	}

	record, err := h.callService.UpdateStatus(c.Request.Context(), callID, domain.CallStatus(req.Status), identity)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, record)
}

// Get returns one call record
// GET /v1/calls/:id
func (h *Handler) Get(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	identity, ok := identityFrom(c)
	if !ok {
		return
	}

	record, err := h.callService.Get(c.Request.Context(), callID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	if !record.IsParticipant(identity) {
		response.Forbidden(c, "Not a participant in this call")
		return
	}

	response.Success(c, http.StatusOK, record)
}

// History lists the authenticated identity's calls, newest first
// GET /v1/calls/history
func (h *Handler) History(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	records, err := h.callService.History(c.Request.Context(), identity, limit, offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, records)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = constants.CallHistoryDefaultLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > constants.CallHistoryMaxLimit {
		limit = constants.CallHistoryMaxLimit
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func identityFrom(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	identity, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return identity, true
}
