// Package session keeps customer portal sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"opsdesk/api/internal/store"
)

var (
	ErrNotFound = errors.New("session not found or expired")
	ErrExpired  = errors.New("session expiry is in the past")
)

// sessionData is the value stored for each portal session
type sessionData struct {
	CustomerID string    `json:"customer_id"`
	QuoteID    string    `json:"quote_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// RedisStore implements portal session storage using Redis. Keys expire with
// the session so no cleanup job is needed.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "portal:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SavePortalSession binds a hashed session token to a customer and quote
// until session.ExpiresAt.
func (s *RedisStore) SavePortalSession(ctx context.Context, tokenHash string, session store.PortalSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return ErrExpired
	}

	payload, err := json.Marshal(sessionData{
		CustomerID: session.CustomerID,
		QuoteID:    session.QuoteID,
		ExpiresAt:  session.ExpiresAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(tokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save portal session: %w", err)
	}
	return nil
}

// LookupPortalSession returns the customer bound to a live session.
func (s *RedisStore) LookupPortalSession(ctx context.Context, tokenHash string) (store.PortalSession, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return store.PortalSession{}, ErrNotFound
	}
	if err != nil {
		return store.PortalSession{}, fmt.Errorf("lookup portal session: %w", err)
	}

	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return store.PortalSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if data.CustomerID == "" || data.QuoteID == "" {
		return store.PortalSession{}, ErrNotFound
	}

	return store.PortalSession{CustomerID: data.CustomerID, QuoteID: data.QuoteID, ExpiresAt: data.ExpiresAt}, nil
}

// RevokePortalSession deletes a session. Revoking an unknown session is a no-op.
func (s *RedisStore) RevokePortalSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke portal session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
