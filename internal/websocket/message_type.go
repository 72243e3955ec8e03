package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType is the "type" discriminator carried by every frame.
type MessageType string

// Inbound message types.
const (
	MessageTypeAuthenticate MessageType = "authenticate"
	MessageTypeHeartbeat    MessageType = "heartbeat"
	MessageTypePing         MessageType = "ping"

	// Domain messages, handled by producers registered on the hub.
	MessageTypeChat        MessageType = "message"
	MessageTypeJoin        MessageType = "join"
	MessageTypeLeave       MessageType = "leave"
	MessageTypeTyping      MessageType = "typing"
	MessageTypeVideoSignal MessageType = "videoSignal"
)

// Outbound message types.
const (
	MessageTypeConnected    MessageType = "connected"
	MessageTypeAuthSuccess  MessageType = "auth_success"
	MessageTypeAuthError    MessageType = "auth_error"
	MessageTypeNotification MessageType = "notification"
	MessageTypeChatMessage  MessageType = "chat_message"
	MessageTypeBroadcast    MessageType = "broadcast"
	MessageTypeJoined       MessageType = "joined"
	MessageTypeLeft         MessageType = "left"
	MessageTypePong         MessageType = "pong"
	MessageTypeError        MessageType = "error"
)

// Error codes sent in "error" frames.
const (
	ErrorCodeUnauthenticated = "UNAUTHENTICATED"
	ErrorCodeUnsupported     = "UNSUPPORTED_TYPE"
	ErrorCodeInvalidPayload  = "INVALID_PAYLOAD"
	ErrorCodeHandlerFailed   = "HANDLER_FAILED"
	ErrorCodeForbidden       = "FORBIDDEN"
)

var (
	ErrMissingType    = errors.New("message type is required")
	ErrInvalidPayload = errors.New("invalid message payload")
	// ErrForbidden is wrapped by handlers that refuse an authenticated
	// subject; the client gets a FORBIDDEN error frame.
	ErrForbidden = errors.New("forbidden")
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsControl reports whether the type is handled by the connection itself
// rather than by a domain handler.
func (mt MessageType) IsControl() bool {
	switch mt {
	case MessageTypeAuthenticate, MessageTypeHeartbeat, MessageTypePing:
		return true
	default:
		return false
	}
}

// InboundMessage is a decoded client frame. Payload holds the whole raw
// frame so handlers can decode their own per-type shape.
type InboundMessage struct {
	Type    MessageType
	Payload json.RawMessage
}

// ParseInbound decodes the discriminator of a raw client frame.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if head.Type == "" {
		return nil, ErrMissingType
	}
	return &InboundMessage{Type: head.Type, Payload: json.RawMessage(data)}, nil
}

// Decode unmarshals the frame into a per-type payload struct.
func (m *InboundMessage) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, m.Type, err)
	}
	return nil
}

// AuthenticatePayload is the body of an "authenticate" frame.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// OutboundMessage is the envelope pushed to clients. Only the fields that
// belong to the frame's type are set.
type OutboundMessage struct {
	Type         MessageType `json:"type"`
	Message      any         `json:"message,omitempty"`
	Data         any         `json:"data,omitempty"`
	UserID       string      `json:"userId,omitempty"`
	Role         string      `json:"role,omitempty"`
	ConnectionID string      `json:"connectionId,omitempty"`
	Code         string      `json:"code,omitempty"`
	Timestamp    int64       `json:"timestamp"`
}

func newOutbound(msgType MessageType) *OutboundMessage {
	return &OutboundMessage{Type: msgType, Timestamp: time.Now().UnixMilli()}
}

// NewConnectedMessage is sent right after the upgrade, before authentication.
func NewConnectedMessage(connectionID string) *OutboundMessage {
	m := newOutbound(MessageTypeConnected)
	m.Message = "connected, send an authenticate message to continue"
	m.ConnectionID = connectionID
	return m
}

func NewAuthSuccessMessage(userID, role string) *OutboundMessage {
	m := newOutbound(MessageTypeAuthSuccess)
	m.UserID = userID
	m.Role = role
	return m
}

func NewAuthErrorMessage(reason string) *OutboundMessage {
	m := newOutbound(MessageTypeAuthError)
	m.Message = reason
	return m
}

func NewNotificationMessage(data any) *OutboundMessage {
	m := newOutbound(MessageTypeNotification)
	m.Data = data
	return m
}

func NewChatMessage(message any) *OutboundMessage {
	m := newOutbound(MessageTypeChatMessage)
	m.Message = message
	return m
}

func NewBroadcastMessage(data any) *OutboundMessage {
	m := newOutbound(MessageTypeBroadcast)
	m.Data = data
	return m
}

// NewEventMessage builds a frame of an arbitrary type carrying data, used for
// relayed domain events such as typing indicators and call signaling.
func NewEventMessage(msgType MessageType, data any) *OutboundMessage {
	m := newOutbound(msgType)
	m.Data = data
	return m
}

func NewPongMessage() *OutboundMessage {
	return newOutbound(MessageTypePong)
}

func NewHeartbeatMessage() *OutboundMessage {
	return newOutbound(MessageTypeHeartbeat)
}

func NewErrorMessage(code, message string) *OutboundMessage {
	m := newOutbound(MessageTypeError)
	m.Code = code
	m.Message = message
	return m
}
