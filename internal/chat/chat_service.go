package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"lexidraft-realtime/internal/websocket"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessage   = errors.New("invalid chat message")
	ErrNotRoomMember    = errors.New("not a member of this room")
	ErrRecipientOffline = errors.New("recipient is offline")
	ErrRoomAccessDenied = errors.New("not allowed to join this room")
)

const maxTextLength = 4000

// EventPublisher forwards persisted chat messages downstream. The Kafka
// producer implements it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value any) error
}

type Service struct {
	repo      Repository
	rooms     RoomStore
	access    RoomAccess
	deliverer websocket.Deliverer
	publisher EventPublisher
	now       func() time.Time
}

// NewService wires the chat domain. publisher may be nil.
func NewService(repo Repository, rooms RoomStore, access RoomAccess, deliverer websocket.Deliverer, publisher EventPublisher) *Service {
	return &Service{
		repo:      repo,
		rooms:     rooms,
		access:    access,
		deliverer: deliverer,
		publisher: publisher,
		now:       time.Now,
	}
}

// SendMessage persists a direct or room message, publishes it and pushes a
// chat_message frame to every participant, including all of the sender's
// devices.
func (s *Service) SendMessage(ctx context.Context, senderID string, req *SendMessageRequest) (*MessageResponse, error) {
	if err := validateMessage(req); err != nil {
		return nil, err
	}

	recipients, err := s.participants(ctx, senderID, req.To, req.RoomID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:            uuid.New().String(),
		SenderID:      senderID,
		RecipientID:   req.To,
		RoomID:        req.RoomID,
		Provider:      ProviderText,
		Text:          req.Text,
		AttachmentURL: req.AttachmentURL,
		FileName:      req.FileName,
		CreatedAt:     s.now().Truncate(time.Microsecond), // postgres keeps microseconds
	}
	if req.AttachmentURL != "" {
		msg.Provider = ProviderFile
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("save chat message: %w", err)
	}

	resp := msg.ToResponse()
	if s.publisher != nil {
		key := req.RoomID
		if key == "" {
			key = conversationKey(senderID, req.To)
		}
		if err := s.publisher.Publish(ctx, key, resp); err != nil {
			slog.Error("Failed to publish chat message", "messageID", msg.ID, "error", err)
		}
	}

	s.deliverer.SendToUsers(recipients, websocket.NewChatMessage(resp))
	return resp, nil
}

// Typing relays a typing indicator to the other participants.
func (s *Service) Typing(ctx context.Context, senderID string, req *TypingRequest) error {
	if (req.To == "") == (req.RoomID == "") {
		return fmt.Errorf("%w: exactly one of to or roomId is required", ErrInvalidMessage)
	}
	recipients, err := s.participants(ctx, senderID, req.To, req.RoomID)
	if err != nil {
		return err
	}
	recipients = slices.DeleteFunc(recipients, func(id string) bool { return id == senderID })

	s.deliverer.SendToUsers(recipients, websocket.NewEventMessage(websocket.MessageTypeTyping, &TypingEvent{
		From:     senderID,
		RoomID:   req.RoomID,
		IsTyping: req.IsTyping,
	}))
	return nil
}

// VideoSignal relays call signaling to a single peer.
func (s *Service) VideoSignal(ctx context.Context, senderID string, req *VideoSignalRequest) error {
	if req.To == "" || len(req.Signal) == 0 {
		return fmt.Errorf("%w: to and signal are required", ErrInvalidMessage)
	}
	if req.To == senderID {
		return fmt.Errorf("%w: cannot signal yourself", ErrInvalidMessage)
	}

	ok := s.deliverer.SendToUser(req.To, websocket.NewEventMessage(websocket.MessageTypeVideoSignal, &VideoSignalEvent{
		From:   senderID,
		Signal: req.Signal,
	}))
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecipientOffline, req.To)
	}
	return nil
}

// GrantRoomAccess allows userIDs to join roomID.
func (s *Service) GrantRoomAccess(ctx context.Context, roomID string, userIDs []string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: roomId is required", ErrInvalidMessage)
	}
	userIDs = slices.DeleteFunc(slices.Clone(userIDs), func(id string) bool { return strings.TrimSpace(id) == "" })
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: at least one user id is required", ErrInvalidMessage)
	}
	if err := s.access.GrantRoomAccess(ctx, roomID, userIDs...); err != nil {
		return fmt.Errorf("grant room access: %w", err)
	}
	return nil
}

// JoinRoom adds userID to the room and tells every member, the joiner
// included. Only subjects granted access may join.
func (s *Service) JoinRoom(ctx context.Context, userID, roomID string) (*RoomEvent, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("%w: roomId is required", ErrInvalidMessage)
	}
	allowed, err := s.access.CanJoinRoom(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("check room access: %w", err)
	}
	if !allowed {
		return nil, ErrRoomAccessDenied
	}
	if err := s.rooms.JoinRoom(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	members, err := s.rooms.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}

	event := &RoomEvent{RoomID: roomID, UserID: userID, Members: members}
	s.deliverer.SendToUsers(members, websocket.NewEventMessage(websocket.MessageTypeJoined, event))
	return event, nil
}

// LeaveRoom removes userID and tells the remaining members and the leaver.
func (s *Service) LeaveRoom(ctx context.Context, userID, roomID string) (*RoomEvent, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("%w: roomId is required", ErrInvalidMessage)
	}
	left, err := s.rooms.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("leave room: %w", err)
	}
	if !left {
		return nil, ErrNotRoomMember
	}
	members, err := s.rooms.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}

	event := &RoomEvent{RoomID: roomID, UserID: userID, Members: members}
	s.deliverer.SendToUsers(append(members, userID), websocket.NewEventMessage(websocket.MessageTypeLeft, event))
	return event, nil
}

// Conversation returns direct-message history between userID and peerID,
// newest first.
func (s *Service) Conversation(ctx context.Context, userID, peerID string, after Cursor, limit int) ([]*MessageResponse, error) {
	messages, err := s.repo.FindConversation(ctx, userID, peerID, after, limit)
	if err != nil {
		return nil, err
	}
	return toResponses(messages), nil
}

// RoomHistory returns a room's messages, newest first. Only members may read it.
func (s *Service) RoomHistory(ctx context.Context, userID, roomID string, after Cursor, limit int) ([]*MessageResponse, error) {
	members, err := s.rooms.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(members, userID) {
		return nil, ErrNotRoomMember
	}
	messages, err := s.repo.FindByRoom(ctx, roomID, after, limit)
	if err != nil {
		return nil, err
	}
	return toResponses(messages), nil
}

// participants resolves who should see a message: the peer and the sender
// for direct messages, the members for rooms.
func (s *Service) participants(ctx context.Context, senderID, to, roomID string) ([]string, error) {
	if roomID == "" {
		return []string{to, senderID}, nil
	}
	members, err := s.rooms.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}
	if !slices.Contains(members, senderID) {
		return nil, ErrNotRoomMember
	}
	return members, nil
}

func validateMessage(req *SendMessageRequest) error {
	if (req.To == "") == (req.RoomID == "") {
		return fmt.Errorf("%w: exactly one of to or roomId is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(req.Text) == "" && req.AttachmentURL == "" {
		return fmt.Errorf("%w: text or attachmentUrl is required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(req.Text) > maxTextLength {
		return fmt.Errorf("%w: text exceeds %d characters", ErrInvalidMessage, maxTextLength)
	}
	return nil
}

// conversationKey is the same for both directions of a direct conversation,
// keeping it on one Kafka partition.
func conversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func toResponses(messages []*Message) []*MessageResponse {
	out := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToResponse())
	}
	return out
}
