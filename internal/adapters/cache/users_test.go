package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/parley/internal/domain"
	"github.com/redis/go-redis/v9"
)

const testRedisAddr = "localhost:6379"

type countingStore struct {
	calls    atomic.Int32
	profiles map[domain.UserID]domain.Profile
}

func (s *countingStore) Lookup(_ context.Context, id domain.UserID) (domain.Profile, error) {
	s.calls.Add(1)
	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrUserNotFound
	}
	return p, nil
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestUserStore_FallsThroughWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	next := &countingStore{profiles: map[domain.UserID]domain.Profile{
		"u1": {ID: "u1", Username: "alice", Role: domain.GlobalRoleUser},
	}}
	s := NewUserStore(next, client, "test:", time.Minute)

	p, err := s.Lookup(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if p.Username != "alice" {
		t.Errorf("Username = %q, want alice", p.Username)
	}
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error with unreachable redis")
	}
}

func TestUserStore_CachesHits(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	prefix := "parley-test:" + time.Now().Format("150405.000000") + ":"

	next := &countingStore{profiles: map[domain.UserID]domain.Profile{
		"u1": {ID: "u1", Username: "alice", Avatar: "a.png", Role: domain.GlobalRoleAdmin},
	}}
	s := NewUserStore(next, client, prefix, time.Minute)
	t.Cleanup(func() { _ = s.Invalidate(ctx, "u1") })

	for i := 0; i < 3; i++ {
		p, err := s.Lookup(ctx, "u1")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if p.Role != domain.GlobalRoleAdmin || p.Avatar != "a.png" {
			t.Errorf("Lookup() = %+v", p)
		}
	}
	if got := next.calls.Load(); got != 1 {
		t.Errorf("backing store calls = %d, want 1", got)
	}

	if err := s.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := s.Lookup(ctx, "u1"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := next.calls.Load(); got != 2 {
		t.Errorf("backing store calls after invalidate = %d, want 2", got)
	}
}

func TestUserStore_NotFoundIsNotCached(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	next := &countingStore{profiles: map[domain.UserID]domain.Profile{}}
	s := NewUserStore(next, client, "parley-test:nf:", time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := s.Lookup(ctx, "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("Lookup() error = %v, want ErrUserNotFound", err)
		}
	}
	if got := next.calls.Load(); got != 2 {
		t.Errorf("backing store calls = %d, want 2", got)
	}
}
