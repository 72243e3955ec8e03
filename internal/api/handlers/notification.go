package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"lexidraft-realtime/internal/api/middleware"
	"lexidraft-realtime/internal/notification"
	"lexidraft-realtime/pkg/response"

	"github.com/gin-gonic/gin"
)

type NotificationService interface {
	Notify(ctx context.Context, req *notification.NotifyRequest) (*notification.NotifyResult, error)
	Broadcast(data json.RawMessage) (int, error)
	Inbox(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*notification.NotificationResponse, error)
	MarkRead(ctx context.Context, userID, id string) error
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

type broadcastRequest struct {
	Data json.RawMessage `json:"data"`
}

// Notify godoc
// @Summary Push a notification to one or more users
// @Tags notifications
// @Security BearerAuth
// @Param request body notification.NotifyRequest true "Recipients, kind and payload"
// @Success 200 {object} notification.NotifyResult
// @Router /notifications [post]
func (h *NotificationHandler) Notify(c *gin.Context) {
	var req notification.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}

	result, err := h.service.Notify(c.Request.Context(), &req)
	if err != nil {
		if isNotifyValidation(err) {
			response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
			return
		}
		slog.Error("Failed to send notification", "kind", req.Kind, "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to send notification")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Broadcast godoc
// @Summary Send a broadcast frame to every open connection
// @Tags notifications
// @Security BearerAuth
// @Param request body broadcastRequest true "Arbitrary JSON under data"
// @Router /broadcast [post]
func (h *NotificationHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}

	recipients, err := h.service.Broadcast(req.Data)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"recipients": recipients})
}

// Inbox lists the caller's stored notifications, newest first.
// @Summary Notification inbox
// @Tags notifications
// @Security BearerAuth
// @Param unread query bool false "Only unread notifications"
// @Param limit query int false "Page size"
// @Router /notifications [get]
func (h *NotificationHandler) Inbox(c *gin.Context) {
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	limit := queryInt(c, "limit", 0)

	items, err := h.service.Inbox(c.Request.Context(), middleware.UserID(c), unreadOnly, limit)
	if err != nil {
		slog.Error("Failed to load inbox", "userID", middleware.UserID(c), "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to load notifications")
		return
	}
	if items == nil {
		items = []*notification.NotificationResponse{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags notifications
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	err := h.service.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	switch {
	case errors.Is(err, notification.ErrNotificationNotFound):
		response.Error(c, http.StatusNotFound, response.ErrCodeNotFound, "")
		return
	case err != nil:
		slog.Error("Failed to mark notification read", "id", c.Param("id"), "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to update notification")
		return
	}

	c.Status(http.StatusNoContent)
}

func isNotifyValidation(err error) bool {
	return errors.Is(err, notification.ErrNoRecipients) ||
		errors.Is(err, notification.ErrMissingKind) ||
		errors.Is(err, notification.ErrInvalidData)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
