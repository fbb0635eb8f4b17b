package orch

import (
	"encoding/json"
	"time"

	"github.com/dkeye/parley/internal/domain"
)

// RoomView is the room as clients see it. Catalog secrets never leave the server.
type RoomView struct {
	ID               domain.RoomID   `json:"id"`
	Name             string          `json:"name"`
	Language         string          `json:"language,omitempty"`
	Topic            string          `json:"topic,omitempty"`
	Private          bool            `json:"private"`
	Host             domain.UserID   `json:"host"`
	Moderators       []domain.UserID `json:"moderators"`
	Capacity         int             `json:"capacity"`
	Active           bool            `json:"active"`
	EndedAt          *time.Time      `json:"endedAt,omitempty"`
	ParticipantCount int             `json:"participantCount"`
}

type ParticipantView struct {
	domain.User
	Role     domain.Role `json:"role"`
	JoinedAt time.Time   `json:"joinedAt"`
	IsHost   bool        `json:"isHost"`
}

type roomJoinedPayload struct {
	Room         RoomView          `json:"room"`
	Participants []ParticipantView `json:"participants"`
}

type userJoinedPayload struct {
	User         domain.User       `json:"user"`
	Room         RoomView          `json:"room"`
	Participants []ParticipantView `json:"participants"`
}

type userLeftPayload struct {
	UserID  domain.UserID `json:"userId"`
	NewHost domain.UserID `json:"newHost,omitempty"`
}

type userKickedPayload struct {
	UserID   domain.UserID `json:"userId"`
	KickedBy domain.UserID `json:"kickedBy"`
}

type kickedFromRoomPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	KickedBy domain.UserID `json:"kickedBy"`
}

type userTypingPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	IsTyping bool          `json:"isTyping"`
}

type roleUpdatedPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
	Role   domain.Role   `json:"role"`
}

type signalPayload struct {
	RoomID  domain.RoomID   `json:"roomId"`
	From    domain.UserID   `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type privateMessagePayload struct {
	ID        string        `json:"id"`
	From      domain.User   `json:"from"`
	To        domain.UserID `json:"to"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Delivered *bool         `json:"delivered,omitempty"`
}

// SendMessageRequest is the body of send-message.
type SendMessageRequest struct {
	RoomID     domain.RoomID      `json:"roomId"`
	Content    string             `json:"content"`
	Type       domain.MessageType `json:"type"`
	Correction *domain.Correction `json:"correction,omitempty"`
}

// RelayRequest is a validated voice-signaling event ready to be forwarded.
type RelayRequest struct {
	Kind         string
	RoomID       domain.RoomID
	TargetUserID domain.UserID
	Payload      json.RawMessage
}

func newRoomView(r *domain.Room) RoomView {
	mods := r.Moderators
	if mods == nil {
		mods = []domain.UserID{}
	}
	return RoomView{
		ID:               r.ID,
		Name:             r.Name,
		Language:         r.Language,
		Topic:            r.Topic,
		Private:          r.Private,
		Host:             r.Host,
		Moderators:       mods,
		Capacity:         r.Capacity,
		Active:           r.Active,
		EndedAt:          r.EndedAt,
		ParticipantCount: len(r.Participants),
	}
}
