package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"lexidraft-realtime/internal/adapters/storage"
	"lexidraft-realtime/internal/api/middleware"
	"lexidraft-realtime/pkg/response"

	"github.com/gin-gonic/gin"
)

type AttachmentUploader interface {
	Upload(ctx context.Context, ownerID, fileName, contentType string, r io.Reader, size int64) (*storage.Attachment, error)
}

type AttachmentHandler struct {
	uploader AttachmentUploader
}

// NewAttachmentHandler accepts a nil uploader when object storage is not
// configured; uploads then answer 503.
func NewAttachmentHandler(uploader AttachmentUploader) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader}
}

// Upload godoc
// @Summary Upload a chat attachment
// @Tags attachments
// @Accept multipart/form-data
// @Security BearerAuth
// @Param file formData file true "Attachment"
// @Success 201 {object} storage.Attachment
// @Router /attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	if h.uploader == nil {
		response.Error(c, http.StatusServiceUnavailable, response.ErrCodeUnavailable, "attachments are disabled")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxAttachmentSize+1<<20)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "file is required")
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if err := storage.ValidateAttachment(contentType, fileHeader.Size); err != nil {
		writeAttachmentError(c, err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "failed to read file")
		return
	}
	defer file.Close()

	attachment, err := h.uploader.Upload(c.Request.Context(), middleware.UserID(c), fileHeader.Filename, contentType, file, fileHeader.Size)
	if err != nil {
		writeAttachmentError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attachment)
}

func writeAttachmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrAttachmentTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.ErrCodeTooLarge, err.Error())
	case errors.Is(err, storage.ErrUnsupportedFileType):
		response.Error(c, http.StatusUnsupportedMediaType, response.ErrCodeUnsupported, err.Error())
	case errors.Is(err, storage.ErrEmptyAttachment):
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
	default:
		slog.Error("Failed to upload attachment", "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to upload attachment")
	}
}
