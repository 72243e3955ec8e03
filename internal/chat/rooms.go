package chat

import (
	"context"
	"sort"
	"sync"
)

// RoomStore tracks consultation room membership by subject. The Redis
// service implements it; MemoryRoomStore is used when Redis is disabled.
type RoomStore interface {
	JoinRoom(ctx context.Context, roomID, userID string) error
	// LeaveRoom reports whether userID was a member.
	LeaveRoom(ctx context.Context, roomID, userID string) (bool, error)
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
}

// RoomAccess is the list of subjects allowed to join a room. Grants are
// issued by the booking side when a consultation is scheduled.
type RoomAccess interface {
	GrantRoomAccess(ctx context.Context, roomID string, userIDs ...string) error
	CanJoinRoom(ctx context.Context, roomID, userID string) (bool, error)
}

type MemoryRoomStore struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{}
	allowed map[string]map[string]struct{}
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:   make(map[string]map[string]struct{}),
		allowed: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryRoomStore) JoinRoom(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addToSet(s.rooms, roomID, userID)
	return nil
}

func (s *MemoryRoomStore) LeaveRoom(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	if _, ok := members[userID]; !ok {
		return false, nil
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(s.rooms, roomID)
	}
	return true, nil
}

func (s *MemoryRoomStore) RoomMembers(_ context.Context, roomID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.rooms[roomID]))
	for userID := range s.rooms[roomID] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryRoomStore) GrantRoomAccess(_ context.Context, roomID string, userIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, userID := range userIDs {
		addToSet(s.allowed, roomID, userID)
	}
	return nil
}

func (s *MemoryRoomStore) CanJoinRoom(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowed[roomID][userID]
	return ok, nil
}

func addToSet(sets map[string]map[string]struct{}, key, member string) {
	set, ok := sets[key]
	if !ok {
		set = make(map[string]struct{})
		sets[key] = set
	}
	set[member] = struct{}{}
}
