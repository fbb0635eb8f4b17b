// Package mongodb stores rooms and reads profiles from the application's MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	roomsCollection = "rooms"
	usersCollection = "users"
)

// DB represents a MongoDB connection
type DB struct {
	client   *mongo.Client
	database *mongo.Database
	config   Config
}

// Config holds MongoDB configuration
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
	OpTimeout      time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "parley",
		ConnectTimeout: 10 * time.Second,
		PingTimeout:    5 * time.Second,
		OpTimeout:      5 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    5,
	}
}

// Connect opens the client and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	db := &DB{client: client, database: client.Database(cfg.Database), config: cfg}
	if err := db.HealthCheck(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info().Str("module", "store.mongo").Str("database", cfg.Database).Msg("connected to MongoDB")
	return db, nil
}

func (m *DB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// EnsureIndexes creates the indexes the live-membership queries rely on.
func (m *DB) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	roomIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}}},
	}
	if _, err := m.Collection(roomsCollection).Indexes().CreateMany(ctx, roomIndexes); err != nil {
		return fmt.Errorf("create room indexes: %w", err)
	}
	log.Info().Str("module", "store.mongo").Msg("ensured indexes")
	return nil
}

// HealthCheck performs a health check on the MongoDB connection
func (m *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	defer cancel()
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("MongoDB health check failed: %w", err)
	}
	return nil
}

func (m *DB) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect from MongoDB: %w", err)
	}
	log.Info().Str("module", "store.mongo").Msg("disconnected from MongoDB")
	return nil
}

func (m *DB) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.config.OpTimeout)
}
