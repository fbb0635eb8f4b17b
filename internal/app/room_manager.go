package app

import (
	"sync"

	"github.com/dkeye/parley/internal/domain"
)

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// RoomLocks hands out one mutual-exclusion domain per room id. Locks are created on
// first use and dropped once nobody holds or waits for them, so ended rooms do not
// accumulate.
type RoomLocks struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomLock
}

func NewRoomLocks() *RoomLocks {
	return &RoomLocks{rooms: make(map[domain.RoomID]*roomLock)}
}

// Lock blocks until the room is free and returns the matching unlock.
func (l *RoomLocks) Lock(id domain.RoomID) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.rooms[id]
	if !ok {
		rl = &roomLock{}
		l.rooms[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			rl.mu.Unlock()
			l.mu.Lock()
			rl.refs--
			if rl.refs == 0 {
				delete(l.rooms, id)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports how many rooms currently have a lock held or awaited.
func (l *RoomLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
