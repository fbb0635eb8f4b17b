package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

type JoinResult struct {
	Room        *domain.Room
	Participant domain.Participant
	// Rejoined is set when the user was already a participant and nothing changed.
	Rejoined bool
}

type LeaveResult struct {
	Room        *domain.Room
	UserID      domain.UserID
	NewHost     domain.UserID
	HostChanged bool
	Ended       bool
}

type KickResult struct {
	LeaveResult
	KickedBy domain.UserID
}

// Coordinator owns the live membership state machine of rooms. Every operation reads
// the room, mutates a copy and saves it while holding the room's lock; the onCommit
// callback runs after a successful save and before the lock is released, which is
// where callers emit broadcasts so they go out in commit order.
type Coordinator struct {
	Rooms core.RoomStore
	Users core.UserStore
	Locks *RoomLocks
	Now   func() time.Time
}

func NewCoordinator(rooms core.RoomStore, users core.UserStore, locks *RoomLocks) *Coordinator {
	return &Coordinator{Rooms: rooms, Users: users, Locks: locks, Now: time.Now}
}

// Join admits uid into the room. A user who is already a participant gets
// ErrAlreadyMember together with a Rejoined result, and onCommit still runs so the
// caller can re-attach the connection.
func (c *Coordinator) Join(ctx context.Context, roomID domain.RoomID, uid domain.UserID, password string, onCommit func(JoinResult)) (JoinResult, error) {
	unlock := c.Locks.Lock(roomID)
	defer unlock()

	room, err := c.load(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}
	if !room.Active {
		return JoinResult{}, domain.ErrRoomEnded
	}
	if idx := room.IndexOf(uid); idx >= 0 {
		res := JoinResult{Room: room, Participant: room.Participants[idx], Rejoined: true}
		if onCommit != nil {
			onCommit(res)
		}
		return res, domain.ErrAlreadyMember
	}
	if room.Full() {
		return JoinResult{}, domain.ErrRoomFull
	}
	if room.Private && room.Host != uid && !passwordMatches(room.PasswordHash, password) {
		return JoinResult{}, domain.ErrInvalidPassword
	}

	next := room.Clone()
	p := admit(next, uid, c.now())
	if err := c.save(ctx, next); err != nil {
		return JoinResult{}, err
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("user", string(uid)).Str("role", string(p.Role)).Int("count", len(next.Participants)).Msg("member joined")

	res := JoinResult{Room: next, Participant: p}
	if onCommit != nil {
		onCommit(res)
	}
	return res, nil
}

// Leave removes uid from the room, hands the host role to the earliest-joined
// remaining participant and ends the room when it becomes empty. Leaving a room one
// is not in, or an unknown room, is a no-op and onCommit does not run.
func (c *Coordinator) Leave(ctx context.Context, roomID domain.RoomID, uid domain.UserID, onCommit func(LeaveResult)) (LeaveResult, error) {
	unlock := c.Locks.Lock(roomID)
	defer unlock()

	room, err := c.load(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return LeaveResult{}, nil
	}
	if err != nil {
		return LeaveResult{}, err
	}
	if !room.IsParticipant(uid) {
		return LeaveResult{}, nil
	}

	next := room.Clone()
	res := depart(next, uid, c.now())
	if err := c.save(ctx, next); err != nil {
		return LeaveResult{}, err
	}
	c.logLeave(res, "member left")
	if onCommit != nil {
		onCommit(res)
	}
	return res, nil
}

// Kick removes target on behalf of actor. Actors that are neither host, moderator nor
// admin get ErrForbidden, also for rooms that do not exist.
func (c *Coordinator) Kick(ctx context.Context, roomID domain.RoomID, actor, target domain.UserID, onCommit func(KickResult)) (KickResult, error) {
	unlock := c.Locks.Lock(roomID)
	defer unlock()

	room, err := c.loadAuthorized(ctx, roomID, actor)
	if err != nil {
		return KickResult{}, err
	}
	if !room.IsParticipant(target) {
		return KickResult{}, nil
	}

	next := room.Clone()
	res := KickResult{LeaveResult: depart(next, target, c.now()), KickedBy: actor}
	if err := c.save(ctx, next); err != nil {
		return KickResult{}, err
	}
	c.logLeave(res.LeaveResult, "member kicked")
	if onCommit != nil {
		onCommit(res)
	}
	return res, nil
}

// UpdateRole changes target's in-room role. Authorization matches Kick.
func (c *Coordinator) UpdateRole(ctx context.Context, roomID domain.RoomID, actor, target domain.UserID, role domain.Role) (domain.Participant, error) {
	if !role.Valid() {
		return domain.Participant{}, fmt.Errorf("%w: unknown role %q", domain.ErrBadRequest, role)
	}
	unlock := c.Locks.Lock(roomID)
	defer unlock()

	room, err := c.loadAuthorized(ctx, roomID, actor)
	if err != nil {
		return domain.Participant{}, err
	}
	idx := room.IndexOf(target)
	if idx < 0 {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if room.Participants[idx].Role == role {
		return room.Participants[idx], nil
	}

	next := room.Clone()
	next.Participants[idx].Role = role
	if err := c.save(ctx, next); err != nil {
		return domain.Participant{}, err
	}
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("user", string(target)).Str("role", string(role)).Msg("role updated")
	return next.Participants[idx], nil
}

func (c *Coordinator) loadAuthorized(ctx context.Context, roomID domain.RoomID, actor domain.UserID) (*domain.Room, error) {
	room, err := c.load(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		if c.elevated(ctx, actor) {
			return nil, err
		}
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	if room.Host == actor || room.IsModerator(actor) || c.elevated(ctx, actor) {
		return room, nil
	}
	return nil, domain.ErrForbidden
}

func (c *Coordinator) elevated(ctx context.Context, uid domain.UserID) bool {
	if c.Users == nil {
		return false
	}
	p, err := c.Users.Lookup(ctx, uid)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			log.Warn().Err(err).Str("module", "app.rooms").Str("user", string(uid)).Msg("profile lookup failed, treating as unprivileged")
		}
		return false
	}
	return p.Elevated()
}

func (c *Coordinator) load(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := c.Rooms.Find(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %s: %w: %w", id, domain.ErrPersistence, err)
	}
	return room, nil
}

func (c *Coordinator) save(ctx context.Context, room *domain.Room) error {
	if err := c.Rooms.Save(ctx, room); err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("room", string(room.ID)).Msg("save failed, mutation dropped")
		return fmt.Errorf("save room %s: %w: %w", room.ID, domain.ErrPersistence, err)
	}
	return nil
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Coordinator) logLeave(res LeaveResult, msg string) {
	log.Info().
		Str("module", "app.rooms").
		Str("room", string(res.Room.ID)).
		Str("user", string(res.UserID)).
		Str("host", string(res.NewHost)).
		Bool("host_changed", res.HostChanged).
		Bool("ended", res.Ended).
		Msg(msg)
}

// admit appends uid. An empty room hands its host role to whoever joins first so the
// host is always a participant while the room is active.
func admit(r *domain.Room, uid domain.UserID, now time.Time) domain.Participant {
	if len(r.Participants) == 0 {
		r.Host = uid
	}
	role := domain.RoleListener
	if r.Host == uid {
		role = domain.RoleSpeaker
	}
	p := domain.Participant{UserID: uid, Role: role, JoinedAt: now}
	r.Participants = append(r.Participants, p)
	return p
}

func depart(r *domain.Room, uid domain.UserID, now time.Time) LeaveResult {
	idx := r.IndexOf(uid)
	r.Participants = slices.Delete(r.Participants, idx, idx+1)
	res := LeaveResult{Room: r, UserID: uid}

	if len(r.Participants) == 0 {
		r.Active = false
		ended := now
		r.EndedAt = &ended
		res.Ended = true
		return res
	}
	if r.Host == uid {
		next, _ := r.EarliestJoined()
		r.Host = next.UserID
		r.Participants[r.IndexOf(next.UserID)].Role = domain.RoleSpeaker
		res.HostChanged = true
	}
	res.NewHost = r.Host
	return res
}

func passwordMatches(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
