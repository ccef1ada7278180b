package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingOAuth is what we remember between redirecting to a provider and its
// callback.
type PendingOAuth struct {
	Provider     string `json:"provider"`
	CodeVerifier string `json:"codeVerifier"`
}

// OAuthStateStore keeps pending OAuth handshakes keyed by the state parameter.
// Take removes the entry, so a state value can be redeemed once.
type OAuthStateStore interface {
	Put(ctx context.Context, state string, pending PendingOAuth, ttl time.Duration) error
	// Take returns nil when the state is unknown or expired.
	Take(ctx context.Context, state string) (*PendingOAuth, error)
}

type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func oauthStateKey(state string) string {
	return fmt.Sprintf("oauth_state:%s", state)
}

func (s *RedisStateStore) Put(ctx context.Context, state string, pending PendingOAuth, ttl time.Duration) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, oauthStateKey(state), data, ttl).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (*PendingOAuth, error) {
	data, err := s.client.GetDel(ctx, oauthStateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pending PendingOAuth
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	return &pending, nil
}

type memoryStateEntry struct {
	pending   PendingOAuth
	expiresAt time.Time
}

// MemoryStateStore is the single-instance fallback used when Redis is not
// configured.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryStateEntry
	now     func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryStateEntry),
		now:     time.Now,
	}
}

func (s *MemoryStateStore) Put(_ context.Context, state string, pending PendingOAuth, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}

	s.entries[state] = memoryStateEntry{pending: pending, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (*PendingOAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return nil, nil
	}
	delete(s.entries, state)

	if !s.now().Before(entry.expiresAt) {
		return nil, nil
	}
	pending := entry.pending
	return &pending, nil
}
