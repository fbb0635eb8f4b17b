package orch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/parley/internal/adapters/store/memory"
	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
)

type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrClosed
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) events() []event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event, 0, len(f.frames))
	for _, fr := range f.frames {
		var ev event
		_ = json.Unmarshal(fr, &ev)
		out = append(out, ev)
	}
	return out
}

func (f *fakeConn) count(typ string) int {
	n := 0
	for _, ev := range f.events() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(typ string) (event, bool) {
	evs := f.events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == typ {
			return evs[i], true
		}
	}
	return event{}, false
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	rooms *memory.RoomStore
	ctx   context.Context
}

// failingRooms fails Save for one room and passes everything else through.
type failingRooms struct {
	*memory.RoomStore
	mu   sync.Mutex
	room domain.RoomID
}

func (s *failingRooms) failFor(id domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = id
}

func (s *failingRooms) Save(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	failing := s.room
	s.mu.Unlock()
	if failing != "" && room.ID == failing {
		return errors.New("write timeout")
	}
	return s.RoomStore.Save(ctx, room)
}

func newHarness(t *testing.T, rooms ...*domain.Room) *harness {
	t.Helper()
	return newHarnessWith(t, func(s *memory.RoomStore) core.RoomStore { return s }, rooms...)
}

func newHarnessWith(t *testing.T, wrap func(*memory.RoomStore) core.RoomStore, rooms ...*domain.Room) *harness {
	t.Helper()
	store := memory.NewRoomStore()
	for _, r := range rooms {
		store.Put(r)
	}
	users := memory.NewUserStore(
		domain.Profile{ID: "alice", Username: "Alice"},
		domain.Profile{ID: "bob", Username: "Bob"},
		domain.Profile{ID: "carol", Username: "Carol"},
		domain.Profile{ID: "root", Username: "Root", Role: domain.GlobalRoleAdmin},
	)
	reg := app.NewRegistry()
	o := New(reg, app.NewCoordinator(wrap(store), users, app.NewRoomLocks()), app.NewRouter(reg, app.DisconnectPolicy{}), users)
	return &harness{t: t, o: o, rooms: store, ctx: context.Background()}
}

func (h *harness) connect(sid core.SessionID, uid domain.UserID) *fakeConn {
	h.t.Helper()
	conn := &fakeConn{}
	h.o.Connect(h.ctx, sid, app.Identity{UserID: uid}, conn, func() {})
	return conn
}

func (h *harness) join(sid core.SessionID, room domain.RoomID) {
	h.t.Helper()
	if err := h.o.Join(h.ctx, sid, room, ""); err != nil {
		h.t.Fatalf("Join(%s, %s) error = %v", sid, room, err)
	}
}

func (h *harness) room(id domain.RoomID) *domain.Room {
	h.t.Helper()
	r, err := h.rooms.Find(h.ctx, id)
	if err != nil {
		h.t.Fatalf("Find(%s) error = %v", id, err)
	}
	return r
}

func openRoom(id domain.RoomID, capacity int) *domain.Room {
	return &domain.Room{ID: id, Name: string(id), Capacity: capacity, Active: true}
}

func TestDisconnectEqualsLeave(t *testing.T) {
	run := func(t *testing.T, viaDisconnect bool) (*harness, *domain.Room, *fakeConn) {
		h := newHarness(t, openRoom("r", 5))
		h.connect("s-alice", "alice")
		bob := h.connect("s-bob", "bob")
		h.join("s-alice", "r")
		h.join("s-bob", "r")
		bob.reset()

		if viaDisconnect {
			h.o.Disconnect(h.ctx, "s-alice")
		} else if err := h.o.Leave(h.ctx, "s-alice", "r"); err != nil {
			t.Fatal(err)
		}
		return h, h.room("r"), bob
	}

	_, left, bobLeft := run(t, false)
	h, disc, bobDisc := run(t, true)

	if left.Host != disc.Host || left.Active != disc.Active || len(left.Participants) != len(disc.Participants) {
		t.Errorf("leave state %+v != disconnect state %+v", left, disc)
	}
	if disc.Host != "bob" {
		t.Errorf("Host = %q, want bob", disc.Host)
	}
	if bobLeft.count(app.EventUserLeft) != 1 || bobDisc.count(app.EventUserLeft) != 1 {
		t.Error("both paths should announce user-left once")
	}
	if _, ok := h.o.Registry.Presence("alice"); ok {
		t.Error("disconnect should remove presence")
	}

	// disconnect runs once
	before := len(bobDisc.events())
	h.o.Disconnect(h.ctx, "s-alice")
	if len(bobDisc.events()) != before {
		t.Error("second Disconnect emitted events")
	}
}

func TestSecondLoginEvictsFirst(t *testing.T) {
	h := newHarness(t, openRoom("r", 5))
	first := h.connect("s1", "alice")
	h.join("s1", "r")

	h.connect("s2", "alice")
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Fatal("first connection should be closed")
	}

	// the transport's read loop would now run the disconnect path
	h.o.Disconnect(h.ctx, "s1")
	if sid, ok := h.o.Registry.LookupConnection("alice"); !ok || sid != "s2" {
		t.Errorf("LookupConnection() = %q, %v; want s2", sid, ok)
	}
	if h.room("r").IsParticipant("alice") {
		t.Error("evicted connection should have left its room")
	}
}

func TestJoin_SwitchesRooms(t *testing.T) {
	h := newHarness(t, openRoom("r1", 5), openRoom("r2", 5))
	alice := h.connect("s-alice", "alice")
	h.join("s-alice", "r1")
	h.join("s-alice", "r2")

	if h.room("r1").IsParticipant("alice") || h.room("r1").Active {
		t.Error("alice should have left r1, ending it")
	}
	if cur, _ := h.o.Registry.RoomOf("s-alice"); cur != "r2" {
		t.Errorf("RoomOf() = %q, want r2", cur)
	}
	if alice.count(app.EventRoomJoined) != 2 {
		t.Errorf("room-joined count = %d", alice.count(app.EventRoomJoined))
	}
}

func TestJoin_FailedPreviousLeaveIsRetried(t *testing.T) {
	tests := []struct {
		name  string
		retry func(h *harness)
	}{
		{"on disconnect", func(h *harness) { h.o.Disconnect(h.ctx, "s-alice") }},
		{"on next join", func(h *harness) { h.join("s-alice", "r3") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rooms *failingRooms
			h := newHarnessWith(t, func(s *memory.RoomStore) core.RoomStore {
				rooms = &failingRooms{RoomStore: s}
				return rooms
			}, openRoom("r1", 5), openRoom("r2", 5), openRoom("r3", 5))
			h.connect("s-alice", "alice")
			h.join("s-alice", "r1")

			rooms.failFor("r1")
			h.join("s-alice", "r2")
			if !h.room("r1").IsParticipant("alice") {
				t.Fatal("leave of r1 should have failed")
			}
			if cur, _ := h.o.Registry.RoomOf("s-alice"); cur != "r2" {
				t.Fatalf("RoomOf() = %q, want r2", cur)
			}

			rooms.failFor("")
			tt.retry(h)
			r1 := h.room("r1")
			if r1.IsParticipant("alice") || r1.Active {
				t.Errorf("r1 participants = %v, active = %v; want empty and ended", r1.Participants, r1.Active)
			}
		})
	}
}

func TestLeave_ActorReceivesUserLeft(t *testing.T) {
	h := newHarness(t, openRoom("r", 5))
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join("s-alice", "r")
	h.join("s-bob", "r")
	alice.reset()
	bob.reset()

	if err := h.o.Leave(h.ctx, "s-alice", ""); err != nil {
		t.Fatal(err)
	}
	for name, conn := range map[string]*fakeConn{"alice": alice, "bob": bob} {
		ev, ok := conn.last(app.EventUserLeft)
		if !ok {
			t.Errorf("%s got no user-left", name)
			continue
		}
		if !strings.Contains(string(ev.Data), `"alice"`) {
			t.Errorf("%s user-left = %s", name, ev.Data)
		}
		if conn.count(app.EventNewMessage) == 0 {
			t.Errorf("%s got no system line", name)
		}
	}
	if _, ok := h.o.Registry.RoomOf("s-alice"); ok {
		t.Error("leaver still attached after leave")
	}
}

func TestJoin_AlreadyMemberReattaches(t *testing.T) {
	h := newHarness(t, openRoom("r", 5))
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join("s-alice", "r")
	h.join("s-bob", "r")
	alice.reset()

	h.join("s-bob", "r")
	if alice.count(app.EventUserJoined) != 0 {
		t.Error("rejoin must not broadcast user-joined")
	}
	if bob.count(app.EventRoomJoined) != 2 {
		t.Errorf("room-joined count = %d, want 2", bob.count(app.EventRoomJoined))
	}
	if n := len(h.room("r").Participants); n != 2 {
		t.Errorf("participants = %d", n)
	}
}

func TestJoin_PersistenceFailureBroadcastsNothing(t *testing.T) {
	h := newHarness(t, openRoom("r", 5))
	h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join("s-bob", "r")
	bob.reset()

	h.rooms.FailSave = errors.New("write timeout")
	err := h.o.Join(h.ctx, "s-alice", "r", "")
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Join() error = %v, want ErrPersistence", err)
	}
	if n := len(bob.events()); n != 0 {
		t.Errorf("bob received %d frames for a failed join", n)
	}
	if _, ok := h.o.Registry.RoomOf("s-alice"); ok {
		t.Error("failed join attached the connection")
	}
}

func TestKick(t *testing.T) {
	h := newHarness(t, openRoom("r", 5))
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	carol := h.connect("s-carol", "carol")
	h.join("s-alice", "r") // host
	h.join("s-bob", "r")
	h.join("s-carol", "r")

	if err := h.o.Kick(h.ctx, "s-carol", "r", "bob"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("Kick by listener error = %v, want ErrForbidden", err)
	}
	if !h.room("r").IsParticipant("bob") || bob.count(app.EventKickedFromRoom) != 0 {
		t.Fatal("forbidden kick touched the target")
	}

	alice.reset()
	carol.reset()
	if err := h.o.Kick(h.ctx, "s-alice", "r", "bob"); err != nil {
		t.Fatalf("Kick by host error = %v", err)
	}
	if h.room("r").IsParticipant("bob") {
		t.Error("bob still a participant")
	}
	if bob.count(app.EventKickedFromRoom) != 1 {
		t.Error("bob should be told he was kicked")
	}
	if _, ok := h.o.Registry.RoomOf("s-bob"); ok {
		t.Error("bob's connection still attached to the room")
	}
	if carol.count(app.EventUserKicked) != 1 || alice.count(app.EventUserKicked) != 1 {
		t.Error("room should see user-kicked")
	}

	bob.reset()
	if err := h.o.SendMessage(h.ctx, "s-alice", SendMessageRequest{RoomID: "r", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if bob.count(app.EventNewMessage) != 0 {
		t.Error("kicked user still receives room messages")
	}
}

func TestKick_UnknownRoomIsForbidden(t *testing.T) {
	h := newHarness(t)
	h.connect("s-bob", "bob")
	if err := h.o.Kick(h.ctx, "s-bob", "nope", "alice"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("Kick() error = %v, want ErrForbidden", err)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	h := newHarness(t, openRoom("r", 5), openRoom("other", 5))
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join("s-alice", "r")
	h.join("s-bob", "r")
	h.o.MaxMessageLength = 10

	tests := []struct {
		name    string
		req     SendMessageRequest
		wantErr error
	}{
		{"text", SendMessageRequest{RoomID: "r", Content: " hola "}, nil},
		{"correction", SendMessageRequest{RoomID: "r", Content: "fixed", Type: domain.MessageCorrection, Correction: &domain.Correction{Original: "yo es", Corrected: "yo soy"}}, nil},
		{"correction without payload", SendMessageRequest{RoomID: "r", Content: "fixed", Type: domain.MessageCorrection}, domain.ErrBadRequest},
		{"unknown type", SendMessageRequest{RoomID: "r", Content: "x", Type: "shout"}, domain.ErrBadRequest},
		{"empty", SendMessageRequest{RoomID: "r", Content: "   "}, domain.ErrBadRequest},
		{"too long", SendMessageRequest{RoomID: "r", Content: strings.Repeat("ñ", 11)}, domain.ErrBadRequest},
		{"room not held", SendMessageRequest{RoomID: "other", Content: "hi"}, domain.ErrNotInRoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bob.reset()
			err := h.o.SendMessage(h.ctx, "s-alice", tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SendMessage() error = %v, want %v", err, tt.wantErr)
			}
			want := 0
			if tt.wantErr == nil {
				want = 1
			}
			if got := bob.count(app.EventNewMessage); got != want {
				t.Errorf("bob got %d new-message, want %d", got, want)
			}
		})
	}

	ev, _ := alice.last(app.EventNewMessage)
	var m domain.Message
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Type != domain.MessageCorrection || m.Correction == nil || m.Sender == nil || m.Sender.Username != "Alice" {
		t.Errorf("sender echo = %+v", m)
	}
}

func TestTyping_ExcludesSender(t *testing.T) {
	h := newHarness(t, openRoom("r", 5))
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	h.join("s-alice", "r")
	h.join("s-bob", "r")

	if err := h.o.Typing(h.ctx, "s-alice", "r", true); err != nil {
		t.Fatal(err)
	}
	if alice.count(app.EventUserTyping) != 0 || bob.count(app.EventUserTyping) != 1 {
		t.Error("typing should reach the room without the sender")
	}
}

func TestPrivateMessage(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")

	if err := h.o.PrivateMessage(h.ctx, "s-alice", "bob", "psst"); err != nil {
		t.Fatal(err)
	}
	if bob.count(app.EventPrivateMessage) != 1 {
		t.Error("recipient did not get the message")
	}
	echo, ok := alice.last(app.EventPrivateMessage)
	if !ok || !strings.Contains(string(echo.Data), `"delivered":true`) {
		t.Errorf("echo = %s", echo.Data)
	}

	if err := h.o.PrivateMessage(h.ctx, "s-alice", "carol", "anyone?"); err != nil {
		t.Fatal(err)
	}
	echo, _ = alice.last(app.EventPrivateMessage)
	if !strings.Contains(string(echo.Data), `"delivered":false`) {
		t.Errorf("offline echo = %s", echo.Data)
	}

	if err := h.o.PrivateMessage(h.ctx, "s-alice", "alice", "me"); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("self message error = %v", err)
	}
}

func TestRelay(t *testing.T) {
	h := newHarness(t, openRoom("r", 5), openRoom("elsewhere", 5))
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")
	carol := h.connect("s-carol", "carol")
	h.join("s-alice", "r")
	h.join("s-bob", "r")
	h.join("s-carol", "elsewhere")
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	if err := h.o.Relay(h.ctx, "s-alice", RelayRequest{Kind: app.EventVoiceOffer, RoomID: "r", Payload: payload}); err != nil {
		t.Fatal(err)
	}
	if alice.count(app.EventVoiceOffer) != 0 || bob.count(app.EventVoiceOffer) != 1 || carol.count(app.EventVoiceOffer) != 0 {
		t.Error("room relay should reach only the other participants")
	}

	if err := h.o.Relay(h.ctx, "s-bob", RelayRequest{Kind: app.EventVoiceAnswer, RoomID: "r", TargetUserID: "alice", Payload: payload}); err != nil {
		t.Fatal(err)
	}
	if alice.count(app.EventVoiceAnswer) != 1 {
		t.Error("directed relay missed its target")
	}

	if err := h.o.Relay(h.ctx, "s-alice", RelayRequest{Kind: app.EventICECandidate, RoomID: "r", TargetUserID: "carol", Payload: payload}); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Errorf("relay to another room error = %v", err)
	}
	if err := h.o.Relay(h.ctx, "s-carol", RelayRequest{Kind: app.EventVoiceOffer, RoomID: "r", Payload: payload}); !errors.Is(err, domain.ErrNotInRoom) {
		t.Errorf("relay from outside error = %v", err)
	}
	if err := h.o.Relay(h.ctx, "s-alice", RelayRequest{Kind: "screen-share", RoomID: "r"}); !errors.Is(err, domain.ErrBadRequest) {
		t.Errorf("unknown kind error = %v", err)
	}
}

func TestFail_GoesToOriginOnly(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("s-alice", "alice")
	bob := h.connect("s-bob", "bob")

	h.o.Fail("s-alice", domain.ErrRoomFull)
	ev, ok := alice.last(app.EventError)
	if !ok || !strings.Contains(string(ev.Data), "room is full") {
		t.Errorf("error event = %s", ev.Data)
	}
	if bob.count(app.EventError) != 0 {
		t.Error("error leaked to another connection")
	}
}

func TestPresenceBroadcasts(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("s-alice", "alice")
	h.connect("s-bob", "bob")

	ev, ok := alice.last(app.EventOnlineUsers)
	if !ok {
		t.Fatal("no online-users snapshot")
	}
	var users []app.OnlineUser
	if err := json.Unmarshal(ev.Data, &users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].UserID != "alice" || users[1].Username != "Bob" {
		t.Errorf("online-users = %+v", users)
	}

	h.o.Disconnect(h.ctx, "s-bob")
	ev, _ = alice.last(app.EventOnlineUsers)
	users = nil
	_ = json.Unmarshal(ev.Data, &users)
	if len(users) != 1 {
		t.Errorf("after disconnect online-users = %+v", users)
	}
}
