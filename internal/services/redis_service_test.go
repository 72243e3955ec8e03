package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"lexidraft-realtime/internal/database"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisService connects to a local Redis and skips the test when none
// is running.
func newTestRedisService(t *testing.T) *RedisService {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisService(database.NewRedisClient(client))
}

func TestPresence(t *testing.T) {
	svc := newTestRedisService(t)
	ctx := context.Background()
	userID := "test-" + uuid.NewString()

	require.NoError(t, svc.SetUserOnline(ctx, userID))
	online, err := svc.IsUserOnline(ctx, userID)
	require.NoError(t, err)
	assert.True(t, online)

	users, err := svc.GetOnlineUsers(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, userID)

	require.NoError(t, svc.SetUserOffline(ctx, userID))
	online, err = svc.IsUserOnline(ctx, userID)
	require.NoError(t, err)
	assert.False(t, online)

	status, err := svc.client.GetClient().HGet(ctx, userStatusKey(userID), "status").Result()
	require.NoError(t, err)
	assert.Equal(t, "offline", status)
}

func TestRooms(t *testing.T) {
	svc := newTestRedisService(t)
	ctx := context.Background()
	roomID := "room-" + uuid.NewString()

	require.NoError(t, svc.JoinRoom(ctx, roomID, "1"))
	require.NoError(t, svc.JoinRoom(ctx, roomID, "2"))

	members, err := svc.RoomMembers(ctx, roomID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, members)

	left, err := svc.LeaveRoom(ctx, roomID, "1")
	require.NoError(t, err)
	assert.True(t, left)
	isMember, err := svc.IsRoomMember(ctx, roomID, "1")
	require.NoError(t, err)
	assert.False(t, isMember)

	left, err = svc.LeaveRoom(ctx, roomID, "1")
	require.NoError(t, err)
	assert.False(t, left, "leaving twice is not a membership change")
}

func TestRoomAccess(t *testing.T) {
	svc := newTestRedisService(t)
	ctx := context.Background()
	roomID := "room-" + uuid.NewString()

	allowed, err := svc.CanJoinRoom(ctx, roomID, "client")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, svc.GrantRoomAccess(ctx, roomID, "client", "lawyer"))

	for _, userID := range []string{"client", "lawyer"} {
		allowed, err = svc.CanJoinRoom(ctx, roomID, userID)
		require.NoError(t, err)
		assert.True(t, allowed, userID)
	}
	allowed, err = svc.CanJoinRoom(ctx, roomID, "outsider")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckRateLimit(t *testing.T) {
	svc := newTestRedisService(t)
	ctx := context.Background()
	key := fmt.Sprintf("rate_limit_test:%s", uuid.NewString())

	for i := 0; i < 3; i++ {
		allowed, err := svc.CheckRateLimit(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := svc.CheckRateLimit(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckRateLimitCountsConcurrentHits(t *testing.T) {
	svc := newTestRedisService(t)
	ctx := context.Background()
	key := fmt.Sprintf("rate_limit_test:%s", uuid.NewString())
	const hits = 50

	var wg sync.WaitGroup
	for i := 0; i < hits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CheckRateLimit(ctx, key, 1000, time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := svc.client.GetClient().ZCard(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(hits), count)
}
