package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pairlink/internal/domain"
)

const (
	pairingKeyPrefix = "pairlink:pairing:"
	sessionKeyPrefix = "pairlink:session:"
	redisOpTimeout   = 5 * time.Second
)

// RedisStore persists pairings and sessions as JSON records in Redis, for
// clients that need state to survive restarts. Per-topic update
// serialization is local: one process owns its topics, so a process-local
// lock per store is enough to keep read-modify-write cycles atomic.
type RedisStore struct {
	rdb *redis.Client
	mu  sync.Mutex
}

// NewRedisStore returns a store over an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// SavePairing inserts or replaces a pairing.
func (s *RedisStore) SavePairing(ctx context.Context, p domain.Pairing) error {
	return s.set(ctx, pairingKeyPrefix+p.Topic.String(), p)
}

// LoadPairing returns the pairing for topic, if present.
func (s *RedisStore) LoadPairing(ctx context.Context, topic domain.Topic) (domain.Pairing, bool, error) {
	var p domain.Pairing
	ok, err := s.get(ctx, pairingKeyPrefix+topic.String(), &p)
	return p, ok, err
}

// UpdatePairing applies fn under the store lock.
func (s *RedisStore) UpdatePairing(ctx context.Context, topic domain.Topic, fn func(*domain.Pairing) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p domain.Pairing
	ok, err := s.get(ctx, pairingKeyPrefix+topic.String(), &p)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&p); err != nil {
		return err
	}
	return s.set(ctx, pairingKeyPrefix+topic.String(), p)
}

// ListPairings returns every stored pairing.
func (s *RedisStore) ListPairings(ctx context.Context) ([]domain.Pairing, error) {
	keys, err := s.scan(ctx, pairingKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Pairing, 0, len(keys))
	for _, key := range keys {
		var p domain.Pairing
		ok, err := s.get(ctx, key, &p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeletePairing removes a pairing. Removing a missing entry is a no-op.
func (s *RedisStore) DeletePairing(ctx context.Context, topic domain.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return s.rdb.Del(ctx, pairingKeyPrefix+topic.String()).Err()
}

// SaveSession inserts or replaces a session.
func (s *RedisStore) SaveSession(ctx context.Context, sess domain.Session) error {
	return s.set(ctx, sessionKeyPrefix+sess.Topic.String(), sess)
}

// LoadSession returns the session for topic, if present.
func (s *RedisStore) LoadSession(ctx context.Context, topic domain.Topic) (domain.Session, bool, error) {
	var sess domain.Session
	ok, err := s.get(ctx, sessionKeyPrefix+topic.String(), &sess)
	return sess, ok, err
}

// UpdateSession applies fn under the store lock.
func (s *RedisStore) UpdateSession(ctx context.Context, topic domain.Topic, fn func(*domain.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess domain.Session
	ok, err := s.get(ctx, sessionKeyPrefix+topic.String(), &sess)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&sess); err != nil {
		return err
	}
	return s.set(ctx, sessionKeyPrefix+topic.String(), sess)
}

// SessionsForPairing scans all sessions for the pairing back-reference.
func (s *RedisStore) SessionsForPairing(ctx context.Context, pairing domain.Topic) ([]domain.Session, error) {
	keys, err := s.scan(ctx, sessionKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var out []domain.Session
	for _, key := range keys {
		var sess domain.Session
		ok, err := s.get(ctx, key, &sess)
		if err != nil {
			return nil, err
		}
		if ok && sess.PairingTopic == pairing {
			out = append(out, sess)
		}
	}
	return out, nil
}

// DeleteSession removes a session. Removing a missing entry is a no-op.
func (s *RedisStore) DeleteSession(ctx context.Context, topic domain.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return s.rdb.Del(ctx, sessionKeyPrefix+topic.String()).Err()
}

func (s *RedisStore) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

func (s *RedisStore) get(ctx context.Context, key string, v any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, v)
}

func (s *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

var (
	_ domain.PairingStore = (*RedisStore)(nil)
	_ domain.SessionStore = (*RedisStore)(nil)
)
