package domain

import "time"

const MaxMessageLength = 2000

type MessageType string

const (
	MessageText       MessageType = "text"
	MessageCorrection MessageType = "correction"
	MessageSystem     MessageType = "system"
)

// Correction is a language-exchange correction attached to a chat message.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	Note      string `json:"note,omitempty"`
}

// Message is transient: it is routed, never stored.
type Message struct {
	ID         string      `json:"id"`
	RoomID     RoomID      `json:"roomId"`
	Sender     *User       `json:"sender,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	Correction *Correction `json:"correction,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}
