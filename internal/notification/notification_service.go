package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lexidraft-realtime/internal/websocket"

	"github.com/google/uuid"
)

var (
	ErrNoRecipients = errors.New("at least one user id is required")
	ErrMissingKind  = errors.New("notification kind is required")
	ErrInvalidData  = errors.New("notification data must be valid JSON")
)

type Service struct {
	repo      Repository
	deliverer websocket.Deliverer
	now       func() time.Time
}

func NewService(repo Repository, deliverer websocket.Deliverer) *Service {
	return &Service{repo: repo, deliverer: deliverer, now: time.Now}
}

// Notify stores a notification in each recipient's inbox, then pushes it to
// every open connection of that recipient. Nothing is pushed for a
// notification that could not be stored. Offline users read it later from
// the inbox.
func (s *Service) Notify(ctx context.Context, req *NotifyRequest) (*NotifyResult, error) {
	recipients := req.Recipients()
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if strings.TrimSpace(req.Kind) == "" {
		return nil, ErrMissingKind
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return nil, ErrInvalidData
	}

	payload := string(req.Data)
	if payload == "" {
		payload = "{}"
	}

	result := &NotifyResult{Delivered: []string{}, Pending: []string{}}
	for _, userID := range recipients {
		n := &Notification{
			ID:        uuid.New().String(),
			UserID:    userID,
			Kind:      req.Kind,
			Payload:   payload,
			CreatedAt: s.now(),
		}
		if err := s.repo.Create(ctx, n); err != nil {
			return result, fmt.Errorf("save notification for %s: %w", userID, err)
		}

		// Only a live connection ever sees the frame, so it goes out as delivered.
		pushed := *n
		pushed.Delivered = true
		if s.deliverer.SendToUser(userID, websocket.NewNotificationMessage(pushed.ToResponse())) {
			n.Delivered = true
			if err := s.repo.MarkDelivered(ctx, n.ID); err != nil {
				slog.Warn("Failed to flag notification as delivered", "id", n.ID, "userID", userID, "error", err)
			}
		}

		if n.Delivered {
			result.Delivered = append(result.Delivered, userID)
		} else {
			result.Pending = append(result.Pending, userID)
		}
	}

	slog.Info("Notification dispatched", "kind", req.Kind, "delivered", len(result.Delivered), "pending", len(result.Pending))
	return result, nil
}

// Broadcast pushes data to every open connection. Broadcasts are not stored.
func (s *Service) Broadcast(data json.RawMessage) (int, error) {
	if len(data) == 0 || !json.Valid(data) {
		return 0, ErrInvalidData
	}
	return s.deliverer.Broadcast(websocket.NewBroadcastMessage(data)), nil
}

func (s *Service) Inbox(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*NotificationResponse, error) {
	items, err := s.repo.ListForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, n.ToResponse())
	}
	return out, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, id, userID, s.now())
}

// InvalidEventError marks a notification event that can never be processed.
// The consumer dead-letters it instead of retrying.
type InvalidEventError struct {
	Err error
}

func (e *InvalidEventError) Error() string {
	return "invalid notification event: " + e.Err.Error()
}

func (e *InvalidEventError) Unwrap() error { return e.Err }

func (e *InvalidEventError) Permanent() bool { return true }

// HandleEvent processes one record from the notification topic.
func (s *Service) HandleEvent(ctx context.Context, key, value []byte) error {
	var req NotifyRequest
	if err := json.Unmarshal(value, &req); err != nil {
		slog.Warn("Malformed notification event", "key", string(key), "error", err)
		return &InvalidEventError{Err: err}
	}
	_, err := s.Notify(ctx, &req)
	if errors.Is(err, ErrNoRecipients) || errors.Is(err, ErrMissingKind) || errors.Is(err, ErrInvalidData) {
		slog.Warn("Invalid notification event", "key", string(key), "error", err)
		return &InvalidEventError{Err: err}
	}
	return err
}
