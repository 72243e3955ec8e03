package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lexidraft-realtime/internal/database"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online_users"

func userStatusKey(userID string) string {
	return fmt.Sprintf("user:%s:status", userID)
}

func roomMembersKey(roomID string) string {
	return fmt.Sprintf("room:%s:members", roomID)
}

func roomAllowedKey(roomID string) string {
	return fmt.Sprintf("room:%s:allowed", roomID)
}

func userRoomsKey(userID string) string {
	return fmt.Sprintf("user:%s:rooms", userID)
}

type RedisService struct {
	client *database.RedisClient
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
	}
}

// =============================================================================
// User Status Management
// =============================================================================

func (r *RedisService) SetUserOnline(ctx context.Context, userID string) error {
	now := time.Now().Unix()
	pipe := r.client.GetClient().Pipeline()

	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, userStatusKey(userID), map[string]interface{}{
		"status":     "online",
		"last_seen":  now,
		"updated_at": now,
	})
	pipe.Expire(ctx, userStatusKey(userID), 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set user %s online: %w", userID, err)
	}

	slog.Debug("User set to online", "userID", userID)
	return nil
}

func (r *RedisService) SetUserOffline(ctx context.Context, userID string) error {
	now := time.Now().Unix()
	pipe := r.client.GetClient().Pipeline()

	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, userStatusKey(userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  now,
		"updated_at": now,
	})
	// offline status is kept longer so "last seen" survives
	pipe.Expire(ctx, userStatusKey(userID), 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set user %s offline: %w", userID, err)
	}

	slog.Debug("User set to offline", "userID", userID)
	return nil
}

func (r *RedisService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, onlineUsersKey, userID).Result()
}

func (r *RedisService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
}

// ClearPresence empties the online set left behind by a previous run.
func (r *RedisService) ClearPresence(ctx context.Context) error {
	return r.client.GetClient().Del(ctx, onlineUsersKey).Err()
}

// =============================================================================
// Consultation Rooms
// =============================================================================

func (r *RedisService) JoinRoom(ctx context.Context, roomID, userID string) error {
	pipe := r.client.GetClient().Pipeline()
	pipe.SAdd(ctx, roomMembersKey(roomID), userID)
	pipe.SAdd(ctx, userRoomsKey(userID), roomID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	return nil
}

// LeaveRoom reports whether userID was a member of the room.
func (r *RedisService) LeaveRoom(ctx context.Context, roomID, userID string) (bool, error) {
	pipe := r.client.GetClient().Pipeline()
	removed := pipe.SRem(ctx, roomMembersKey(roomID), userID)
	pipe.SRem(ctx, userRoomsKey(userID), roomID)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("leave room %s: %w", roomID, err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisService) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, roomMembersKey(roomID)).Result()
}

func (r *RedisService) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, roomMembersKey(roomID), userID).Result()
}

func (r *RedisService) GrantRoomAccess(ctx context.Context, roomID string, userIDs ...string) error {
	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	if err := r.client.GetClient().SAdd(ctx, roomAllowedKey(roomID), members...).Err(); err != nil {
		return fmt.Errorf("grant access to room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisService) CanJoinRoom(ctx context.Context, roomID, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, roomAllowedKey(roomID), userID).Result()
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records a hit for key in a sliding window and reports
// whether the caller is still under limit.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	pipe := r.client.GetClient().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, key)
	// Hits in the same nanosecond from different nodes must not collapse into
	// one member.
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() < int64(limit), nil
}
