package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the session lifecycle manager. It wires presence, room membership
// and routing together for every connection from connect to disconnect.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.Coordinator
	Router   *app.Router
	Users    core.UserStore

	MaxMessageLength int
	Now              func() time.Time
}

func New(reg *app.Registry, rooms *app.Coordinator, router *app.Router, users core.UserStore) *Orchestrator {
	return &Orchestrator{
		Registry:         reg,
		Rooms:            rooms,
		Router:           router,
		Users:            users,
		MaxMessageLength: domain.MaxMessageLength,
		Now:              time.Now,
	}
}

// Connect registers an authenticated connection. A previous connection of the same
// user is evicted: it is closed and goes through the regular disconnect path.
func (o *Orchestrator) Connect(ctx context.Context, sid core.SessionID, id app.Identity, sig core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(sid, id.UserID, sig, cancel)

	p := o.profile(ctx, id.UserID)
	if prev, replaced := o.Registry.Register(id.UserID, sid, p.DisplayName()); replaced && prev.SessionID != sid {
		log.Info().Str("module", "orch").Str("user", string(id.UserID)).Str("old_sid", string(prev.SessionID)).Str("sid", string(sid)).Msg("second login evicts first")
		o.Registry.Kill(prev.SessionID)
	}
	o.broadcastPresence()
}

// Disconnect runs at most once per connection whatever closed it: the held room is
// left as if the user had left it, then presence is removed and re-broadcast.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) {
	uid, roomID, ok := o.Registry.BeginDisconnect(sid)
	if !ok {
		return
	}
	if roomID != "" {
		if err := o.leave(ctx, uid, roomID); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("leave on disconnect failed")
		}
	}
	for _, stale := range o.Registry.TakeStale(sid) {
		if err := o.leave(ctx, uid, stale); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("room", string(stale)).Msg("pending leave on disconnect failed")
		}
	}
	o.Registry.Unregister(sid)
	o.Registry.Unbind(sid)
	o.broadcastPresence()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("user", string(uid)).Msg("disconnected")
}

// Fail reports a handler error to the originating connection only.
func (o *Orchestrator) Fail(sid core.SessionID, err error) {
	if err == nil {
		return
	}
	ev := log.Info()
	if errors.Is(err, domain.ErrPersistence) {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("event rejected")
	o.Router.ToSession(sid, app.Event{Type: app.EventError, Data: app.ErrorPayload{Message: domain.PublicMessage(err)}})
}

func (o *Orchestrator) Pong(sid core.SessionID) {
	o.Registry.Touch(sid)
	o.Router.ToSession(sid, app.Event{Type: app.EventPong})
}

func (o *Orchestrator) identify(sid core.SessionID) (domain.UserID, error) {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return "", domain.ErrUnauthenticated
	}
	o.Registry.Touch(sid)
	return uid, nil
}

func (o *Orchestrator) broadcastPresence() {
	o.Router.ToAll(app.Event{Type: app.EventOnlineUsers, Data: o.Registry.Snapshot()})
}

func (o *Orchestrator) profile(ctx context.Context, uid domain.UserID) domain.Profile {
	if o.Users == nil {
		return domain.AnonymousProfile(uid)
	}
	p, err := o.Users.Lookup(ctx, uid)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.Warn().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("profile lookup failed")
		}
		return domain.AnonymousProfile(uid)
	}
	return p
}

func (o *Orchestrator) participants(ctx context.Context, r *domain.Room) []ParticipantView {
	out := make([]ParticipantView, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, ParticipantView{
			User:     o.profile(ctx, p.UserID).Public(),
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
			IsHost:   p.UserID == r.Host,
		})
	}
	return out
}

func (o *Orchestrator) systemMessage(roomID domain.RoomID, text string) {
	o.Router.ToRoom(roomID, app.Event{Type: app.EventNewMessage, Data: domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Content:   text,
		Type:      domain.MessageSystem,
		CreatedAt: o.now(),
	}})
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}
