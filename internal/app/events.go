package app

// Inbound event types.
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventSendMessage    = "send-message"
	EventTyping         = "typing"
	EventKickUser       = "kick-user"
	EventUpdateRole     = "update-role"
	EventVoiceOffer     = "voice-offer"
	EventVoiceAnswer    = "voice-answer"
	EventICECandidate   = "ice-candidate"
	EventPrivateMessage = "private-message"
	EventPing           = "ping"
)

// Outbound event types.
const (
	EventOnlineUsers    = "online-users"
	EventRoomJoined     = "room-joined"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventUserKicked     = "user-kicked"
	EventKickedFromRoom = "kicked-from-room"
	EventNewMessage     = "new-message"
	EventUserTyping     = "user-typing"
	EventRoleUpdated    = "role-updated"
	EventPong           = "pong"
	EventError          = "error"
)

// Event is the wire envelope for every frame in both directions.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
