package chat

import (
	"time"
)

const (
	ProviderText = "text"
	ProviderFile = "file"
)

/** --------------------ENTITIES-------------------- */
// Message is one persisted chat message, either direct (RecipientID set) or
// sent to a consultation room (RoomID set).
type Message struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID      string    `gorm:"not null;index" json:"senderId"`
	RecipientID   string    `gorm:"index" json:"recipientId,omitempty"`
	RoomID        string    `gorm:"index" json:"roomId,omitempty"`
	Provider      string    `gorm:"not null" json:"provider"`
	Text          string    `json:"text,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
}

func (Message) TableName() string {
	return "chat_messages"
}

/** -------------------- DTOs -------------------- */
// SendMessageRequest is the payload of an inbound "message" frame.
type SendMessageRequest struct {
	To            string `json:"to"`
	RoomID        string `json:"roomId"`
	Text          string `json:"text"`
	AttachmentURL string `json:"attachmentUrl"`
	FileName      string `json:"fileName"`
}

type TypingRequest struct {
	To       string `json:"to"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// VideoSignalRequest carries an opaque WebRTC signal (offer, answer or ICE
// candidate) for a consultation call.
type VideoSignalRequest struct {
	To     string         `json:"to"`
	Signal map[string]any `json:"signal"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type MessageResponse struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"senderId"`
	RecipientID   string    `json:"recipientId,omitempty"`
	RoomID        string    `json:"roomId,omitempty"`
	Provider      string    `json:"provider"`
	Text          string    `json:"text,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (m *Message) ToResponse() *MessageResponse {
	return &MessageResponse{
		ID:            m.ID,
		SenderID:      m.SenderID,
		RecipientID:   m.RecipientID,
		RoomID:        m.RoomID,
		Provider:      m.Provider,
		Text:          m.Text,
		AttachmentURL: m.AttachmentURL,
		FileName:      m.FileName,
		CreatedAt:     m.CreatedAt,
	}
}

// TypingEvent is relayed to the other participants.
type TypingEvent struct {
	From     string `json:"from"`
	RoomID   string `json:"roomId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type VideoSignalEvent struct {
	From   string         `json:"from"`
	Signal map[string]any `json:"signal"`
}

type RoomEvent struct {
	RoomID  string   `json:"roomId"`
	UserID  string   `json:"userId"`
	Members []string `json:"members"`
}
