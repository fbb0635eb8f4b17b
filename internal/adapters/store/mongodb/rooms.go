package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/parley/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ParticipantDocument is one element of RoomDocument.Participants.
type ParticipantDocument struct {
	UserID   string    `bson:"user_id"`
	Role     string    `bson:"role"`
	JoinedAt time.Time `bson:"joined_at"`
}

// RoomDocument is the catalog's room document. The catalog writes the metadata; this
// service only writes the live membership fields and the version.
type RoomDocument struct {
	ID              primitive.ObjectID    `bson:"_id,omitempty"`
	Name            string                `bson:"name"`
	Language        string                `bson:"language"`
	Topic           string                `bson:"topic"`
	IsPrivate       bool                  `bson:"is_private"`
	PasswordHash    string                `bson:"password_hash,omitempty"`
	Host            string                `bson:"host"`
	Moderators      []string              `bson:"moderators"`
	Participants    []ParticipantDocument `bson:"participants"`
	MaxParticipants int                   `bson:"max_participants"`
	IsActive        bool                  `bson:"is_active"`
	EndedAt         *time.Time            `bson:"ended_at,omitempty"`
	Version         int64                 `bson:"version"`
	UpdatedAt       time.Time             `bson:"updated_at"`
}

// RoomStore implements core.RoomStore on the rooms collection.
type RoomStore struct {
	db         *DB
	collection *mongo.Collection
}

func NewRoomStore(db *DB) *RoomStore {
	return &RoomStore{db: db, collection: db.Collection(roomsCollection)}
}

func (s *RoomStore) Find(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, domain.ErrRoomNotFound
	}
	ctx, cancel := s.db.opContext(ctx)
	defer cancel()

	var doc RoomDocument
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("find room %s: %w", id, err)
	}
	return roomFromDocument(&doc), nil
}

// Save writes the live fields when the stored version still matches room.Version.
// Documents created by the catalog have no version yet and count as version 0.
func (s *RoomStore) Save(ctx context.Context, room *domain.Room) error {
	oid, err := primitive.ObjectIDFromHex(string(room.ID))
	if err != nil {
		return domain.ErrRoomNotFound
	}
	ctx, cancel := s.db.opContext(ctx)
	defer cancel()

	filter := bson.M{"_id": oid, "version": room.Version}
	if room.Version == 0 {
		filter = bson.M{"_id": oid, "$or": bson.A{
			bson.M{"version": 0},
			bson.M{"version": bson.M{"$exists": false}},
		}}
	}
	update := bson.M{
		"$set": bson.M{
			"host":         string(room.Host),
			"participants": participantsToDocuments(room.Participants),
			"is_active":    room.Active,
			"ended_at":     room.EndedAt,
			"updated_at":   time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update room %s: %w", room.ID, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrConflict
	}
	room.Version++
	return nil
}

func roomFromDocument(doc *RoomDocument) *domain.Room {
	r := &domain.Room{
		ID:           domain.RoomID(doc.ID.Hex()),
		Name:         doc.Name,
		Language:     doc.Language,
		Topic:        doc.Topic,
		Private:      doc.IsPrivate,
		PasswordHash: doc.PasswordHash,
		Host:         domain.UserID(doc.Host),
		Capacity:     doc.MaxParticipants,
		Active:       doc.IsActive,
		EndedAt:      doc.EndedAt,
		Version:      doc.Version,
	}
	for _, m := range doc.Moderators {
		r.Moderators = append(r.Moderators, domain.UserID(m))
	}
	for _, p := range doc.Participants {
		r.Participants = append(r.Participants, domain.Participant{
			UserID:   domain.UserID(p.UserID),
			Role:     domain.Role(p.Role),
			JoinedAt: p.JoinedAt,
		})
	}
	return r
}

func participantsToDocuments(ps []domain.Participant) []ParticipantDocument {
	out := make([]ParticipantDocument, 0, len(ps))
	for _, p := range ps {
		out = append(out, ParticipantDocument{UserID: string(p.UserID), Role: string(p.Role), JoinedAt: p.JoinedAt})
	}
	return out
}
