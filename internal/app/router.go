package app

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats for one event.
type PublishResult struct {
	SendTo  int
	Dropped []core.SessionID
}

// Router delivers events to a room, a single user, a single connection or everyone.
// Delivery is fire-and-forget: frames are queued on each connection without waiting,
// and nothing is retried.
type Router struct {
	Registry *Registry
	Policy   Policy
}

func NewRouter(reg *Registry, policy Policy) *Router {
	return &Router{Registry: reg, Policy: policy}
}

// ToRoom delivers to every connection in the room, the originator included.
func (r *Router) ToRoom(roomID domain.RoomID, ev Event) PublishResult {
	return r.publish(r.Registry.MembersOfRoom(roomID), "", ev)
}

// ToRoomExcept delivers to every connection in the room except the originator.
func (r *Router) ToRoomExcept(roomID domain.RoomID, except core.SessionID, ev Event) PublishResult {
	return r.publish(r.Registry.MembersOfRoom(roomID), except, ev)
}

// ToAll delivers to every open connection.
func (r *Router) ToAll(ev Event) PublishResult {
	return r.publish(r.Registry.All(), "", ev)
}

// ToUser delivers to the user's private channel. Offline users are skipped silently.
func (r *Router) ToUser(uid domain.UserID, ev Event) bool {
	sid, ok := r.Registry.LookupConnection(uid)
	if !ok {
		log.Debug().Str("module", "app.router").Str("user", string(uid)).Str("type", ev.Type).Msg("recipient offline, dropped")
		return false
	}
	return r.ToSession(sid, ev)
}

// ToSession delivers to one connection.
func (r *Router) ToSession(sid core.SessionID, ev Event) bool {
	sig, ok := r.Registry.Signal(sid)
	if !ok {
		return false
	}
	uid, _ := r.Registry.UserOf(sid)
	res := r.publish([]ConnSnap{{SID: sid, UserID: uid, Signal: sig}}, "", ev)
	return res.SendTo == 1
}

func (r *Router) publish(targets []ConnSnap, except core.SessionID, ev Event) PublishResult {
	res := PublishResult{}
	if len(targets) == 0 {
		return res
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("type", ev.Type).Msg("marshal event")
		return res
	}
	for _, t := range targets {
		if t.SID == except {
			continue
		}
		err := t.Signal.TrySend(frame)
		switch {
		case err == nil:
			res.SendTo++
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, t.SID)
			r.onBackPressure(t)
		default:
			// closed connections are already on their way out
		}
	}
	log.Debug().Str("module", "app.router").Str("type", ev.Type).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Router) onBackPressure(t ConnSnap) {
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackPressure(t.SID, t.UserID) {
	case Disconnect:
		log.Warn().Str("module", "app.router").Str("sid", string(t.SID)).Msg("slow consumer, disconnecting")
		r.Registry.Kill(t.SID)
	case DropFrame, NoAction:
	}
}
