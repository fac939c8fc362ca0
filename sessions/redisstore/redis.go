// Package redisstore provides a Redis-backed sessions.Store for
// multi-process deployments: every process sees the same session records,
// so a revocation issued by one node is honored by all of them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/wirehub/wirehub/sessions"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=wirehub:sessions:"`
}

// Store implements sessions.Store on Redis. Records carry a TTL matching
// their expiry, so expired sessions vanish without a sweep; revocation
// rewrites the record in place, keeping its TTL as a tombstone.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a Store and verifies connectivity.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "wirehub:sessions:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode redis config from env: %w", err)
	}
	return New(cfg)
}

// NewWithClient wraps an existing client (used by tests against miniredis).
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "wirehub:sessions:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(sessionID string) string { return s.keyPrefix + sessionID }

// Put implements sessions.Store.
func (s *Store) Put(ctx context.Context, sess *sessions.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired at write time", sess.SessionID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get implements sessions.Store. Expiry is enforced by the key TTL; a
// missing key reads as not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var sess sessions.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if sess.Expired(time.Now()) {
		return nil, sessions.ErrSessionNotFound
	}
	return &sess, nil
}

// Revoke implements sessions.Store: the record is rewritten with the
// revoked flag set, keeping its TTL. Unknown ids are a no-op.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if sess.Revoked {
		return nil
	}
	sess.Revoked = true
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	// SET XX + KEEPTTL: only rewrite a key that still exists, preserving its
	// expiry. If the record expired between the read and here, there is
	// nothing left to tombstone.
	if err := s.client.SetXX(ctx, s.key(sessionID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements sessions.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ActiveCount implements sessions.Store by scanning the key prefix and
// excluding revoked tombstones. This is an O(n) admin operation; do not
// call it in request hot paths.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
		now    = time.Now()
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue // expired between SCAN and GET
				}
				return 0, fmt.Errorf("redis get: %w", err)
			}
			var sess sessions.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			if sess.Active(now) {
				total++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

var _ sessions.Store = (*Store)(nil)
