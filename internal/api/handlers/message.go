package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"lexidraft-realtime/internal/api/middleware"
	"lexidraft-realtime/internal/chat"
	"lexidraft-realtime/pkg/response"

	"github.com/gin-gonic/gin"
)

type ChatService interface {
	Conversation(ctx context.Context, userID, peerID string, after chat.Cursor, limit int) ([]*chat.MessageResponse, error)
	RoomHistory(ctx context.Context, userID, roomID string, after chat.Cursor, limit int) ([]*chat.MessageResponse, error)
	GrantRoomAccess(ctx context.Context, roomID string, userIDs []string) error
}

type ChatHandler struct {
	history ChatService
}

func NewChatHandler(history ChatService) *ChatHandler {
	return &ChatHandler{history: history}
}

type grantRoomAccessRequest struct {
	UserIDs []string `json:"userIds"`
}

type paginatedMessages struct {
	Messages   []*chat.MessageResponse `json:"messages"`
	NextCursor string                  `json:"nextCursor,omitempty"`
}

// GetConversation godoc
// @Summary Direct-chat history with a peer
// @Tags chats
// @Security BearerAuth
// @Param peer path string true "Peer user ID"
// @Param limit query int false "Page size"
// @Param before query string false "nextCursor from the previous page"
// @Router /messages/{peer} [get]
func (h *ChatHandler) GetConversation(c *gin.Context) {
	after, limit, ok := pageParams(c)
	if !ok {
		return
	}

	messages, err := h.history.Conversation(c.Request.Context(), middleware.UserID(c), c.Param("peer"), after, limit)
	if err != nil {
		slog.Error("Failed to load conversation", "peer", c.Param("peer"), "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to get messages")
		return
	}

	c.JSON(http.StatusOK, paginate(messages, limit))
}

// GetRoomMessages returns consultation room history. Only current members
// may read it.
// @Tags chats
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param limit query int false "Page size"
// @Param before query string false "nextCursor from the previous page"
// @Failure 403 {object} map[string]interface{}
// @Router /rooms/{id}/messages [get]
func (h *ChatHandler) GetRoomMessages(c *gin.Context) {
	after, limit, ok := pageParams(c)
	if !ok {
		return
	}

	messages, err := h.history.RoomHistory(c.Request.Context(), middleware.UserID(c), c.Param("id"), after, limit)
	if err != nil {
		if errors.Is(err, chat.ErrNotRoomMember) {
			response.Error(c, http.StatusForbidden, response.ErrCodeForbidden, err.Error())
			return
		}
		slog.Error("Failed to load room messages", "roomID", c.Param("id"), "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to get messages")
		return
	}

	c.JSON(http.StatusOK, paginate(messages, limit))
}

// GrantRoomAccess godoc
// @Summary Allow users to join a consultation room
// @Tags chats
// @Accept json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body grantRoomAccessRequest true "Users to admit"
// @Success 204
// @Failure 400 {object} map[string]interface{}
// @Router /rooms/{id}/participants [post]
func (h *ChatHandler) GrantRoomAccess(c *gin.Context) {
	var req grantRoomAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}

	if err := h.history.GrantRoomAccess(c.Request.Context(), c.Param("id"), req.UserIDs); err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
			return
		}
		slog.Error("Failed to grant room access", "roomID", c.Param("id"), "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "failed to grant room access")
		return
	}

	c.Status(http.StatusNoContent)
}

func pageParams(c *gin.Context) (chat.Cursor, int, bool) {
	limit := queryInt(c, "limit", 20)
	after, err := chat.ParseCursor(c.Query("before"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "before must be a nextCursor value")
		return chat.Cursor{}, 0, false
	}
	return after, limit, true
}

// paginate sets the cursor only when the page is full.
func paginate(messages []*chat.MessageResponse, limit int) paginatedMessages {
	if messages == nil {
		messages = []*chat.MessageResponse{}
	}
	page := paginatedMessages{Messages: messages}
	if limit > 0 && len(messages) >= limit {
		page.NextCursor = chat.CursorAfter(messages[len(messages)-1]).String()
	}
	return page
}
