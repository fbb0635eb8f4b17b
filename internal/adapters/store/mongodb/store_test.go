package mongodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/parley/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRoomFromDocument(t *testing.T) {
	oid := primitive.NewObjectID()
	joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := &RoomDocument{
		ID:              oid,
		Name:            "Spanish practice",
		Language:        "es",
		IsPrivate:       true,
		PasswordHash:    "hash",
		Host:            "h1",
		Moderators:      []string{"m1"},
		Participants:    []ParticipantDocument{{UserID: "h1", Role: "speaker", JoinedAt: joined}},
		MaxParticipants: 8,
		IsActive:        true,
		Version:         3,
	}

	r := roomFromDocument(doc)
	if r.ID != domain.RoomID(oid.Hex()) {
		t.Errorf("ID = %q, want %q", r.ID, oid.Hex())
	}
	if !r.Private || r.PasswordHash != "hash" || r.Capacity != 8 || r.Version != 3 {
		t.Errorf("room = %+v", r)
	}
	if !r.IsModerator("m1") {
		t.Error("m1 should be a moderator")
	}
	if len(r.Participants) != 1 || r.Participants[0].Role != domain.RoleSpeaker || !r.Participants[0].JoinedAt.Equal(joined) {
		t.Errorf("participants = %+v", r.Participants)
	}

	back := participantsToDocuments(r.Participants)
	if len(back) != 1 || back[0].UserID != "h1" || back[0].Role != "speaker" {
		t.Errorf("participantsToDocuments() = %+v", back)
	}
}

func TestProfileFromDocument(t *testing.T) {
	tests := []struct {
		role string
		want domain.GlobalRole
	}{
		{"admin", domain.GlobalRoleAdmin},
		{"user", domain.GlobalRoleUser},
		{"", domain.GlobalRoleUser},
		{"superuser", domain.GlobalRoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			p := profileFromDocument(&UserDocument{ID: primitive.NewObjectID(), Username: "bob", Role: tt.role})
			if p.Role != tt.want {
				t.Errorf("Role = %q, want %q", p.Role, tt.want)
			}
		})
	}
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database = fmt.Sprintf("parley_test_%d", time.Now().UnixNano())
	cfg.ConnectTimeout = 2 * time.Second
	cfg.PingTimeout = time.Second

	db, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", cfg.URI, err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = db.database.Drop(ctx)
		_ = db.Close(ctx)
	})
	return db
}

func TestRoomStore_SaveIsVersioned(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewRoomStore(db)

	oid := primitive.NewObjectID()
	// catalog-created document without a version field
	_, err := db.Collection(roomsCollection).InsertOne(ctx, map[string]any{
		"_id": oid, "name": "French", "language": "fr", "host": "h1",
		"max_participants": 4, "is_active": true,
	})
	if err != nil {
		t.Fatalf("InsertOne() error = %v", err)
	}

	r, err := store.Find(ctx, domain.RoomID(oid.Hex()))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	stale := r.Clone()

	r.Participants = append(r.Participants, domain.Participant{UserID: "h1", Role: domain.RoleSpeaker, JoinedAt: time.Now().UTC()})
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if r.Version != 1 {
		t.Errorf("Version = %d, want 1", r.Version)
	}
	if err := store.Save(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale Save() error = %v, want ErrConflict", err)
	}

	got, err := store.Find(ctx, r.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if !got.IsParticipant("h1") || got.Version != 1 {
		t.Errorf("stored room = %+v", got)
	}
}

func TestStores_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := NewRoomStore(db).Find(ctx, "not-an-object-id"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("Find(bad id) error = %v", err)
	}
	if _, err := NewRoomStore(db).Find(ctx, domain.RoomID(primitive.NewObjectID().Hex())); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("Find(missing) error = %v", err)
	}
	if _, err := NewUserStore(db).Lookup(ctx, domain.UserID(primitive.NewObjectID().Hex())); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Lookup(missing) error = %v", err)
	}
}
