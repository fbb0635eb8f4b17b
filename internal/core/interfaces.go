package core

import (
	"context"

	"github.com/dkeye/parley/internal/domain"
)

// CredentialVerifier checks a bearer credential and resolves the user it belongs to.
// Any failure must be reported as domain.ErrUnauthenticated.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}

// RoomStore is the catalog's persistence for rooms.
// Find returns domain.ErrRoomNotFound for unknown ids. Save is optimistic on
// Room.Version and returns domain.ErrConflict when another writer got there first;
// on success it bumps Version on the passed room.
type RoomStore interface {
	Find(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Save(ctx context.Context, room *domain.Room) error
}

// UserStore is a read-only view of accounts used to enrich payloads.
// Lookup returns domain.ErrUserNotFound for unknown ids.
type UserStore interface {
	Lookup(ctx context.Context, id domain.UserID) (domain.Profile, error)
}
