package chat

import (
	"context"
	"errors"
	"fmt"

	"lexidraft-realtime/internal/websocket"
)

// Handler adapts the chat service to inbound websocket frames.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register installs the chat message handlers on hub.
func (h *Handler) Register(hub *websocket.Hub) {
	hub.HandleFunc(websocket.MessageTypeChat, h.handleMessage)
	hub.HandleFunc(websocket.MessageTypeTyping, h.handleTyping)
	hub.HandleFunc(websocket.MessageTypeVideoSignal, h.handleVideoSignal)
	hub.HandleFunc(websocket.MessageTypeJoin, h.handleJoin)
	hub.HandleFunc(websocket.MessageTypeLeave, h.handleLeave)
}

func (h *Handler) handleMessage(ctx context.Context, client *websocket.Client, msg *websocket.InboundMessage) error {
	var req SendMessageRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	_, err := h.service.SendMessage(ctx, client.UserID(), &req)
	return asPayloadError(err)
}

func (h *Handler) handleTyping(ctx context.Context, client *websocket.Client, msg *websocket.InboundMessage) error {
	var req TypingRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	return asPayloadError(h.service.Typing(ctx, client.UserID(), &req))
}

func (h *Handler) handleVideoSignal(ctx context.Context, client *websocket.Client, msg *websocket.InboundMessage) error {
	var req VideoSignalRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	return asPayloadError(h.service.VideoSignal(ctx, client.UserID(), &req))
}

func (h *Handler) handleJoin(ctx context.Context, client *websocket.Client, msg *websocket.InboundMessage) error {
	var req RoomRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	_, err := h.service.JoinRoom(ctx, client.UserID(), req.RoomID)
	return asPayloadError(err)
}

func (h *Handler) handleLeave(ctx context.Context, client *websocket.Client, msg *websocket.InboundMessage) error {
	var req RoomRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	_, err := h.service.LeaveRoom(ctx, client.UserID(), req.RoomID)
	return asPayloadError(err)
}

// asPayloadError maps validation and membership failures onto the hub's
// error kinds so the client gets INVALID_PAYLOAD or FORBIDDEN instead of
// HANDLER_FAILED.
func asPayloadError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidMessage):
		return fmt.Errorf("%w: %v", websocket.ErrInvalidPayload, err)
	case errors.Is(err, ErrNotRoomMember), errors.Is(err, ErrRoomAccessDenied):
		return fmt.Errorf("%w: %v", websocket.ErrForbidden, err)
	}
	return err
}
