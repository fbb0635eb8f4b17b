package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/parley/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserDocument holds the profile fields this service reads from the users collection.
type UserDocument struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Username string             `bson:"username"`
	Avatar   string             `bson:"avatar"`
	Role     string             `bson:"role"`
}

// UserStore implements core.UserStore on the users collection. It never writes.
type UserStore struct {
	db         *DB
	collection *mongo.Collection
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db, collection: db.Collection(usersCollection)}
}

func (s *UserStore) Lookup(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return domain.Profile{}, domain.ErrUserNotFound
	}
	ctx, cancel := s.db.opContext(ctx)
	defer cancel()

	var doc UserDocument
	projection := options.FindOne().SetProjection(bson.M{"username": 1, "avatar": 1, "role": 1})
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}, projection).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Profile{}, domain.ErrUserNotFound
		}
		return domain.Profile{}, fmt.Errorf("find user %s: %w", id, err)
	}
	return profileFromDocument(&doc), nil
}

func profileFromDocument(doc *UserDocument) domain.Profile {
	role := domain.GlobalRoleUser
	if domain.GlobalRole(doc.Role) == domain.GlobalRoleAdmin {
		role = domain.GlobalRoleAdmin
	}
	return domain.Profile{
		ID:       domain.UserID(doc.ID.Hex()),
		Username: doc.Username,
		Avatar:   doc.Avatar,
		Role:     role,
	}
}
