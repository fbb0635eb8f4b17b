// Package cache puts a Redis cache-aside layer in front of the profile store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/parley/internal/core"
	"github.com/dkeye/parley/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 5 * time.Minute

type cachedProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role"`
}

// UserStore serves profiles from Redis and falls back to next on a miss or when Redis
// is unreachable. Unknown users are never cached.
type UserStore struct {
	next   core.UserStore
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

func NewUserStore(next core.UserStore, client *redis.Client, prefix string, ttl time.Duration) *UserStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &UserStore{next: next, client: client, prefix: prefix, ttl: ttl}
}

func (s *UserStore) Lookup(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	key := s.key(id)

	p, found, err := s.get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("module", "cache.users").Str("uid", string(id)).Msg("cache read failed")
	}
	if found {
		return p, nil
	}

	val, err, _ := s.group.Do(key, func() (any, error) {
		return s.next.Lookup(ctx, id)
	})
	if err != nil {
		return domain.Profile{}, err
	}
	p = val.(domain.Profile)

	if err := s.set(ctx, key, p); err != nil {
		log.Warn().Err(err).Str("module", "cache.users").Str("uid", string(id)).Msg("cache write failed")
	}
	return p, nil
}

// Invalidate drops a cached profile after the web application changed it.
func (s *UserStore) Invalidate(ctx context.Context, id domain.UserID) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (s *UserStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (s *UserStore) key(id domain.UserID) string {
	return s.prefix + "user:" + string(id)
}

func (s *UserStore) get(ctx context.Context, key string) (domain.Profile, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, fmt.Errorf("cache get: %w", err)
	}
	var c cachedProfile
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.Profile{}, false, fmt.Errorf("cache unmarshal: %w", err)
	}
	return domain.Profile{
		ID:       domain.UserID(c.ID),
		Username: c.Username,
		Avatar:   c.Avatar,
		Role:     domain.GlobalRole(c.Role),
	}, true, nil
}

func (s *UserStore) set(ctx context.Context, key string, p domain.Profile) error {
	data, err := json.Marshal(cachedProfile{
		ID:       string(p.ID),
		Username: p.Username,
		Avatar:   p.Avatar,
		Role:     string(p.Role),
	})
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
