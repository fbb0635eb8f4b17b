package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves the connection into roomID. The previous room, if any, is left only
// after the new join succeeded. A previous room whose leave fails stays pending and
// is retried on the next join and on disconnect.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID domain.RoomID, password string) error {
	uid, err := o.identify(sid)
	if err != nil {
		return err
	}
	if roomID == "" {
		return fmt.Errorf("%w: roomId is required", domain.ErrBadRequest)
	}
	o.retryStale(ctx, sid, uid)
	prev, hadPrev := o.Registry.RoomOf(sid)

	_, err = o.Rooms.Join(ctx, roomID, uid, password, func(res app.JoinResult) {
		o.Registry.AttachRoom(sid, roomID)
		view := newRoomView(res.Room)
		parts := o.participants(ctx, res.Room)
		o.Router.ToSession(sid, app.Event{Type: app.EventRoomJoined, Data: roomJoinedPayload{Room: view, Participants: parts}})
		if res.Rejoined {
			return
		}
		user := o.profile(ctx, uid).Public()
		o.Router.ToRoom(roomID, app.Event{Type: app.EventUserJoined, Data: userJoinedPayload{User: user, Room: view, Participants: parts}})
		o.systemMessage(roomID, fmt.Sprintf("%s joined the room", user.Username))
	})
	rejoined := errors.Is(err, domain.ErrAlreadyMember)
	if err != nil && !rejoined {
		return err
	}

	if hadPrev && prev != roomID {
		if err := o.leave(ctx, uid, prev); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(prev)).Msg("leaving previous room failed")
			o.Registry.MarkStale(sid, prev)
		}
	}
	if !rejoined {
		o.broadcastPresence()
	}
	return nil
}

// Leave leaves roomID, or the connection's current room when roomID is empty.
func (o *Orchestrator) Leave(ctx context.Context, sid core.SessionID, roomID domain.RoomID) error {
	uid, err := o.identify(sid)
	if err != nil {
		return err
	}
	if roomID == "" {
		cur, ok := o.Registry.RoomOf(sid)
		if !ok {
			return nil
		}
		roomID = cur
	}
	if err := o.leave(ctx, uid, roomID); err != nil {
		return err
	}
	o.broadcastPresence()
	return nil
}

func (o *Orchestrator) Kick(ctx context.Context, sid core.SessionID, roomID domain.RoomID, target domain.UserID) error {
	actor, err := o.identify(sid)
	if err != nil {
		return err
	}
	if roomID == "" || target == "" {
		return fmt.Errorf("%w: roomId and userId are required", domain.ErrBadRequest)
	}
	res, err := o.Rooms.Kick(ctx, roomID, actor, target, func(res app.KickResult) {
		o.Router.ToUser(target, app.Event{Type: app.EventKickedFromRoom, Data: kickedFromRoomPayload{RoomID: roomID, KickedBy: actor}})
		o.Registry.DetachRoom(target, roomID)
		o.Router.ToRoom(roomID, app.Event{Type: app.EventUserKicked, Data: userKickedPayload{UserID: target, KickedBy: actor}})
		name := o.profile(ctx, target).DisplayName()
		o.announceLeave(ctx, res.LeaveResult, fmt.Sprintf("%s was removed from the room", name))
	})
	if err != nil {
		return err
	}
	if res.Room != nil {
		o.broadcastPresence()
	}
	return nil
}

func (o *Orchestrator) UpdateRole(ctx context.Context, sid core.SessionID, roomID domain.RoomID, target domain.UserID, role domain.Role) error {
	actor, err := o.identify(sid)
	if err != nil {
		return err
	}
	if roomID == "" || target == "" {
		return fmt.Errorf("%w: roomId and userId are required", domain.ErrBadRequest)
	}
	p, err := o.Rooms.UpdateRole(ctx, roomID, actor, target, role)
	if err != nil {
		return err
	}
	o.Router.ToSession(sid, app.Event{Type: app.EventRoleUpdated, Data: roleUpdatedPayload{RoomID: roomID, UserID: p.UserID, Role: p.Role}})
	return nil
}

// leave is shared by leave-room, room switches and disconnects so all three end in
// the same state.
func (o *Orchestrator) leave(ctx context.Context, uid domain.UserID, roomID domain.RoomID) error {
	_, err := o.Rooms.Leave(ctx, roomID, uid, func(res app.LeaveResult) {
		// announced while still attached so the leaver gets its own user-left
		name := o.profile(ctx, uid).DisplayName()
		o.announceLeave(ctx, res, fmt.Sprintf("%s left the room", name))
		o.Registry.DetachRoom(uid, roomID)
	})
	if err != nil {
		return err
	}
	o.Registry.DetachRoom(uid, roomID)
	return nil
}

// retryStale leaves the rooms a failed switch left behind. Rooms that fail again
// stay pending.
func (o *Orchestrator) retryStale(ctx context.Context, sid core.SessionID, uid domain.UserID) {
	for _, roomID := range o.Registry.TakeStale(sid) {
		if err := o.leave(ctx, uid, roomID); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("pending leave failed")
			o.Registry.MarkStale(sid, roomID)
		}
	}
}

func (o *Orchestrator) announceLeave(ctx context.Context, res app.LeaveResult, line string) {
	roomID := res.Room.ID
	o.Router.ToRoom(roomID, app.Event{Type: app.EventUserLeft, Data: userLeftPayload{UserID: res.UserID, NewHost: res.NewHost}})
	o.systemMessage(roomID, line)
	if res.HostChanged {
		o.systemMessage(roomID, fmt.Sprintf("%s is now the host", o.profile(ctx, res.NewHost).DisplayName()))
	}
}
