package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenceEntry is the routing handle of one online user.
type PresenceEntry struct {
	UserID      domain.UserID
	SessionID   core.SessionID
	DisplayName string
	LastSeen    time.Time

	seq uint64
}

// OnlineUser is one element of the online-users snapshot.
type OnlineUser struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type sessionEntry struct {
	UserID  domain.UserID
	RoomID  domain.RoomID
	Signal  core.SignalConnection
	Cancel  context.CancelFunc
	closing bool
	// stale holds rooms the user switched away from but whose leave did not persist.
	stale []domain.RoomID
}

// ConnSnap is a copy of a connection-table row, safe to use outside the lock.
type ConnSnap struct {
	SID    core.SessionID
	UserID domain.UserID
	Signal core.SignalConnection
}

// Registry is the process-wide presence registry and open-connection table.
// Every mutation happens under one mutex, so two registrations for the same user
// cannot both win.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	presence map[domain.UserID]*PresenceEntry
	seq      uint64
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		presence: make(map[domain.UserID]*PresenceEntry),
		now:      time.Now,
	}
}

// Bind adds a freshly authenticated connection to the connection table.
func (r *Registry) Bind(sid core.SessionID, uid domain.UserID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{UserID: uid, Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("bound session")
}

// Register inserts or replaces the presence entry of uid. When another connection
// was registered for the same user it is returned so the caller can evict it.
func (r *Registry) Register(uid domain.UserID, sid core.SessionID, displayName string) (PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	prev, replaced := r.presence[uid]
	r.presence[uid] = &PresenceEntry{
		UserID:      uid,
		SessionID:   sid,
		DisplayName: displayName,
		LastSeen:    r.now(),
		seq:         r.seq,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Bool("replaced", replaced).Msg("registered presence")
	if !replaced {
		return PresenceEntry{}, false
	}
	return *prev, true
}

// Unregister drops the presence entry owned by sid. It is a no-op when the entry is
// gone or already belongs to a newer connection of the same user.
func (r *Registry) Unregister(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, p := range r.presence {
		if p.SessionID == sid {
			delete(r.presence, uid)
			log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("unregistered presence")
			return true
		}
	}
	return false
}

// Touch refreshes LastSeen when the owning connection shows activity.
func (r *Registry) Touch(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	if p, ok := r.presence[e.UserID]; ok && p.SessionID == sid {
		p.LastSeen = r.now()
	}
}

// Snapshot lists online users in registration order.
func (r *Registry) Snapshot() []OnlineUser {
	r.mu.RLock()
	entries := make([]*PresenceEntry, 0, len(r.presence))
	for _, p := range r.presence {
		entries = append(entries, p)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *PresenceEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]OnlineUser, 0, len(entries))
	for _, p := range entries {
		out = append(out, OnlineUser{UserID: p.UserID, Username: p.DisplayName})
	}
	return out
}

func (r *Registry) Presence(uid domain.UserID) (PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[uid]
	if !ok {
		return PresenceEntry{}, false
	}
	return *p, true
}

func (r *Registry) LookupConnection(uid domain.UserID) (core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[uid]
	if !ok {
		return "", false
	}
	return p.SessionID, true
}

func (r *Registry) UserOf(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	return e.UserID, true
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.closing {
		return nil, false
	}
	return e.Signal, true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

// AttachRoom makes roomID the current room of sid and detaches the same room from
// any other connection of that user, so a reconnect takes over the membership.
func (r *Registry) AttachRoom(sid core.SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	for other, e := range r.sessions {
		if other != sid && e.UserID == entry.UserID && e.RoomID == roomID {
			e.RoomID = ""
		}
	}
	entry.RoomID = roomID
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("updated room")
	return true
}

// DetachRoom clears roomID from every connection of uid that holds it.
func (r *Registry) DetachRoom(uid domain.UserID, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, e := range r.sessions {
		if e.UserID == uid && e.RoomID == roomID {
			e.RoomID = ""
			log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("removed room association")
		}
	}
}

// MarkStale records a room sid switched away from without a persisted leave.
func (r *Registry) MarkStale(sid core.SessionID, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || slices.Contains(e.stale, roomID) {
		return
	}
	e.stale = append(e.stale, roomID)
	log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("pending leave")
}

// TakeStale returns and clears the pending leaves of sid.
func (r *Registry) TakeStale(sid core.SessionID) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := e.stale
	e.stale = nil
	return out
}

// MembersOfRoom returns the connections currently attached to a room.
func (r *Registry) MembersOfRoom(roomID domain.RoomID) []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnap, 0)
	for sid, e := range r.sessions {
		if e.RoomID == roomID && !e.closing {
			out = append(out, ConnSnap{SID: sid, UserID: e.UserID, Signal: e.Signal})
		}
	}
	return out
}

// All returns every open connection.
func (r *Registry) All() []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if !e.closing {
			out = append(out, ConnSnap{SID: sid, UserID: e.UserID, Signal: e.Signal})
		}
	}
	return out
}

// BeginDisconnect marks sid as closing and returns what cleanup needs. Only the first
// call for a connection reports ok, which makes disconnect handling run exactly once.
func (r *Registry) BeginDisconnect(sid core.SessionID) (domain.UserID, domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.closing {
		return "", "", false
	}
	e.closing = true
	return e.UserID, e.RoomID, true
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Kill cancels the connection context and closes its transport. The transport's read
// loop then runs the normal disconnect path.
func (r *Registry) Kill(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	if e.Signal != nil {
		e.Signal.Close()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
