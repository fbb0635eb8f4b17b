// Package memory keeps rooms and profiles in process memory. It backs local runs
// without a document store and the tests of the packages above it.
package memory

import (
	"context"
	"sync"

	"github.com/dkeye/parley/internal/domain"
)

type RoomStore struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room

	// FailSave, when set, is returned by Save instead of writing.
	FailSave error
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[domain.RoomID]*domain.Room)}
}

// Put stores a room as the catalog would after a create-room request.
func (s *RoomStore) Put(room *domain.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.Clone()
}

func (s *RoomStore) Find(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (s *RoomStore) Save(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	cur, ok := s.rooms[room.ID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if cur.Version != room.Version {
		return domain.ErrConflict
	}
	room.Version++
	s.rooms[room.ID] = room.Clone()
	return nil
}

type UserStore struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]domain.Profile
}

func NewUserStore(profiles ...domain.Profile) *UserStore {
	s := &UserStore{profiles: make(map[domain.UserID]domain.Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *UserStore) Put(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *UserStore) Lookup(_ context.Context, id domain.UserID) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrUserNotFound
	}
	return p, nil
}
