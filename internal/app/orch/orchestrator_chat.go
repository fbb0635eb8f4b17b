package orch

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/google/uuid"
)

// SendMessage routes a chat line to everyone in the room, sender included. It runs
// under the room lock so chat and membership lines keep their relative order.
func (o *Orchestrator) SendMessage(ctx context.Context, sid core.SessionID, req SendMessageRequest) error {
	uid, err := o.identify(sid)
	if err != nil {
		return err
	}
	if req.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", domain.ErrBadRequest)
	}
	content, err := o.cleanContent(req.Content)
	if err != nil {
		return err
	}
	typ, corr, err := messageKind(req)
	if err != nil {
		return err
	}

	unlock := o.Rooms.Locks.Lock(req.RoomID)
	defer unlock()
	if cur, ok := o.Registry.RoomOf(sid); !ok || cur != req.RoomID {
		return domain.ErrNotInRoom
	}
	sender := o.profile(ctx, uid).Public()
	o.Router.ToRoom(req.RoomID, app.Event{Type: app.EventNewMessage, Data: domain.Message{
		ID:         uuid.NewString(),
		RoomID:     req.RoomID,
		Sender:     &sender,
		Content:    content,
		Type:       typ,
		Correction: corr,
		CreatedAt:  o.now(),
	}})
	return nil
}

// Typing tells the other participants that the sender started or stopped typing.
func (o *Orchestrator) Typing(_ context.Context, sid core.SessionID, roomID domain.RoomID, isTyping bool) error {
	uid, err := o.identify(sid)
	if err != nil {
		return err
	}
	if cur, ok := o.Registry.RoomOf(sid); !ok || cur != roomID {
		return domain.ErrNotInRoom
	}
	o.Router.ToRoomExcept(roomID, sid, app.Event{Type: app.EventUserTyping, Data: userTypingPayload{RoomID: roomID, UserID: uid, IsTyping: isTyping}})
	return nil
}

// PrivateMessage delivers to the recipient's private channel when they are online and
// echoes the message back to the sender with the delivery outcome.
func (o *Orchestrator) PrivateMessage(ctx context.Context, sid core.SessionID, recipient domain.UserID, content string) error {
	uid, err := o.identify(sid)
	if err != nil {
		return err
	}
	if recipient == "" {
		return fmt.Errorf("%w: recipientId is required", domain.ErrBadRequest)
	}
	if recipient == uid {
		return fmt.Errorf("%w: cannot message yourself", domain.ErrBadRequest)
	}
	content, err = o.cleanContent(content)
	if err != nil {
		return err
	}

	msg := privateMessagePayload{
		ID:        uuid.NewString(),
		From:      o.profile(ctx, uid).Public(),
		To:        recipient,
		Content:   content,
		CreatedAt: o.now(),
	}
	delivered := o.Router.ToUser(recipient, app.Event{Type: app.EventPrivateMessage, Data: msg})
	msg.Delivered = &delivered
	o.Router.ToSession(sid, app.Event{Type: app.EventPrivateMessage, Data: msg})
	return nil
}

func (o *Orchestrator) cleanContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: message is empty", domain.ErrBadRequest)
	}
	limit := o.MaxMessageLength
	if limit <= 0 {
		limit = domain.MaxMessageLength
	}
	if utf8.RuneCountInString(s) > limit {
		return "", fmt.Errorf("%w: message longer than %d characters", domain.ErrBadRequest, limit)
	}
	return s, nil
}

func messageKind(req SendMessageRequest) (domain.MessageType, *domain.Correction, error) {
	switch req.Type {
	case "", domain.MessageText:
		return domain.MessageText, nil, nil
	case domain.MessageCorrection:
		c := req.Correction
		if c == nil || strings.TrimSpace(c.Corrected) == "" {
			return "", nil, fmt.Errorf("%w: correction requires a corrected text", domain.ErrBadRequest)
		}
		return domain.MessageCorrection, c, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown message type %q", domain.ErrBadRequest, req.Type)
	}
}
