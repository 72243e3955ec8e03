package notification

import (
	"encoding/json"
	"time"
)

/** --------------------ENTITIES-------------------- */
// Notification is one user's inbox entry. Delivered records whether a live
// connection accepted it when it was created.
type Notification struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string     `gorm:"not null;index:idx_notifications_user_created" json:"userId"`
	Kind      string     `gorm:"not null" json:"kind"`
	Payload   string     `gorm:"type:jsonb" json:"-"`
	Delivered bool       `gorm:"not null;default:false" json:"delivered"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `gorm:"index:idx_notifications_user_created" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

/** -------------------- DTOs -------------------- */
// NotifyRequest is accepted from the HTTP producer API and the Kafka topic.
type NotifyRequest struct {
	UserIDs []string        `json:"userIds"`
	UserID  string          `json:"userId,omitempty"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// Recipients merges UserID into UserIDs, dropping blanks and duplicates.
func (r *NotifyRequest) Recipients() []string {
	seen := make(map[string]struct{}, len(r.UserIDs)+1)
	var out []string
	for _, id := range append([]string{r.UserID}, r.UserIDs...) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type NotifyResult struct {
	Delivered []string `json:"delivered"`
	Pending   []string `json:"pending"`
}

type NotificationResponse struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Delivered bool            `json:"delivered"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (n *Notification) ToResponse() *NotificationResponse {
	resp := &NotificationResponse{
		ID:        n.ID,
		Kind:      n.Kind,
		Delivered: n.Delivered,
		Read:      n.ReadAt != nil,
		CreatedAt: n.CreatedAt,
	}
	if n.Payload != "" {
		resp.Data = json.RawMessage(n.Payload)
	}
	return resp
}
