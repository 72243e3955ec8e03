package chat

import (
	"context"

	"gorm.io/gorm"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type Repository interface {
	Create(ctx context.Context, msg *Message) error
	// FindConversation returns the direct messages exchanged between a and b,
	// newest first, positioned after the cursor when it is non-zero.
	FindConversation(ctx context.Context, a, b string, after Cursor, limit int) ([]*Message, error)
	FindByRoom(ctx context.Context, roomID string, after Cursor, limit int) ([]*Message, error)
}

type chatRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, msg *Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *chatRepository) FindConversation(ctx context.Context, a, b string, after Cursor, limit int) ([]*Message, error) {
	var messages []*Message
	err := conversationQuery(r.db.WithContext(ctx), a, b, after, limit).Find(&messages).Error
	return messages, err
}

func (r *chatRepository) FindByRoom(ctx context.Context, roomID string, after Cursor, limit int) ([]*Message, error) {
	var messages []*Message
	err := roomQuery(r.db.WithContext(ctx), roomID, after, limit).Find(&messages).Error
	return messages, err
}

func conversationQuery(db *gorm.DB, a, b string, after Cursor, limit int) *gorm.DB {
	q := db.Where("((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))", a, b, b, a)
	return keysetPage(q, after, limit)
}

func roomQuery(db *gorm.DB, roomID string, after Cursor, limit int) *gorm.DB {
	return keysetPage(db.Where("room_id = ?", roomID), after, limit)
}

// keysetPage applies keyset pagination. The id tiebreak keeps messages
// that share a created_at value on exactly one page.
func keysetPage(q *gorm.DB, after Cursor, limit int) *gorm.DB {
	if !after.IsZero() {
		q = q.Where("(created_at, id) < (?, ?)", after.CreatedAt, after.ID)
	}
	return q.Order("created_at DESC").Order("id DESC").Limit(clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
