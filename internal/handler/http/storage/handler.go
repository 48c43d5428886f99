package storage

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"counselconnect-backend/internal/service/storage"
	"counselconnect-backend/pkg/response"
)

// Handler handles attachment HTTP requests
type Handler struct {
	storageService *storage.Service
}

// NewHandler creates a new storage handler
func NewHandler(storageService *storage.Service) *Handler {
	return &Handler{storageService: storageService}
}

// GrantUploadRequest represents an attachment upload request
type GrantUploadRequest struct {
	ContentType string `json:"content_type" binding:"required"`
	Size        int64  `json:"size" binding:"required,min=1"`
}

// GrantUpload presigns an upload URL for a new attachment
// POST /v1/attachments
func (h *Handler) GrantUpload(c *gin.Context) {
	var req GrantUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	identityVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	identity, ok := identityVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	grant, err := h.storageService.GrantUpload(c.Request.Context(), identity, req.ContentType, req.Size)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, grant)
}

// GrantDownload presigns a download URL for an attachment
// GET /v1/attachments/url?bucket=...&object=...
func (h *Handler) GrantDownload(c *gin.Context) {
	downloadURL, err := h.storageService.GrantDownload(c.Request.Context(), c.Query("bucket"), c.Query("object"))
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"download_url": downloadURL})
}
