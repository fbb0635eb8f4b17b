package domain

import "errors"

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomEnded           = errors.New("room has ended")
	ErrRoomFull            = errors.New("room is full")
	ErrInvalidPassword     = errors.New("invalid room password")
	ErrAlreadyMember       = errors.New("already a member of this room")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotInRoom           = errors.New("not in this room")
	ErrForbidden           = errors.New("forbidden")
	ErrPersistence         = errors.New("persistence failure")
	ErrConflict            = errors.New("concurrent update conflict")
	ErrUserNotFound        = errors.New("user not found")
	ErrBadRequest          = errors.New("bad request")
	ErrRateLimited         = errors.New("rate limited")
)

var public = []struct {
	err error
	msg string
}{
	{ErrUnauthenticated, "unauthenticated"},
	{ErrRoomNotFound, "room not found"},
	{ErrRoomEnded, "room has ended"},
	{ErrRoomFull, "room is full"},
	{ErrInvalidPassword, "invalid password"},
	{ErrAlreadyMember, "already in this room"},
	{ErrParticipantNotFound, "participant not found"},
	{ErrNotInRoom, "you are not in this room"},
	{ErrForbidden, "forbidden"},
	{ErrPersistence, "could not save room state, try again"},
	{ErrConflict, "could not save room state, try again"},
	{ErrRateLimited, "slow down"},
}

// PublicMessage converts an error into the text sent back to a client.
// Unknown errors never leak their details.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBadRequest) {
		return err.Error()
	}
	for _, p := range public {
		if errors.Is(err, p.err) {
			return p.msg
		}
	}
	return "internal error"
}
