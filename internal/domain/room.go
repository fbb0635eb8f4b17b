package domain

import (
	"slices"
	"time"
)

type RoomID string

// Role is a participant's role inside one room.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

func (r Role) Valid() bool { return r == RoleSpeaker || r == RoleListener }

type Participant struct {
	UserID   UserID    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is the live part of a catalog room plus the catalog metadata the core reads.
// Name, Language, Topic, Private and PasswordHash belong to the catalog and are never
// written back by this service.
type Room struct {
	ID           RoomID
	Name         string
	Language     string
	Topic        string
	Private      bool
	PasswordHash string

	Host         UserID
	Moderators   []UserID
	Participants []Participant
	Capacity     int
	Active       bool
	EndedAt      *time.Time

	// Version is bumped by the store on every successful save.
	Version int64
}

func (r *Room) Clone() *Room {
	c := *r
	c.Moderators = slices.Clone(r.Moderators)
	c.Participants = slices.Clone(r.Participants)
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func (r *Room) IndexOf(uid UserID) int {
	return slices.IndexFunc(r.Participants, func(p Participant) bool { return p.UserID == uid })
}

func (r *Room) IsParticipant(uid UserID) bool { return r.IndexOf(uid) >= 0 }

func (r *Room) IsModerator(uid UserID) bool { return slices.Contains(r.Moderators, uid) }

func (r *Room) Full() bool { return r.Capacity > 0 && len(r.Participants) >= r.Capacity }

// EarliestJoined returns the remaining participant with the smallest JoinedAt.
// Ties keep list order.
func (r *Room) EarliestJoined() (Participant, bool) {
	if len(r.Participants) == 0 {
		return Participant{}, false
	}
	best := r.Participants[0]
	for _, p := range r.Participants[1:] {
		if p.JoinedAt.Before(best.JoinedAt) {
			best = p
		}
	}
	return best, true
}
