package store

import (
	"context"
	"sync"

	"pairlink/internal/domain"
)

// MemoryStore keeps pairings and sessions in maps guarded by one mutex per
// table. Entry mutations run inside the lock, which serializes updates per
// topic without any global coordination beyond the map itself.
type MemoryStore struct {
	pmu      sync.Mutex
	pairings map[domain.Topic]domain.Pairing

	smu      sync.Mutex
	sessions map[domain.Topic]domain.Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairings: make(map[domain.Topic]domain.Pairing),
		sessions: make(map[domain.Topic]domain.Session),
	}
}

// SavePairing inserts or replaces a pairing.
func (s *MemoryStore) SavePairing(_ context.Context, p domain.Pairing) error {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	s.pairings[p.Topic] = p
	return nil
}

// LoadPairing returns the pairing for topic, if present.
func (s *MemoryStore) LoadPairing(_ context.Context, topic domain.Topic) (domain.Pairing, bool, error) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	p, ok := s.pairings[topic]
	return p, ok, nil
}

// UpdatePairing applies fn to the stored pairing under the table lock.
func (s *MemoryStore) UpdatePairing(_ context.Context, topic domain.Topic, fn func(*domain.Pairing) error) error {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	p, ok := s.pairings[topic]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&p); err != nil {
		return err
	}
	s.pairings[topic] = p
	return nil
}

// ListPairings returns every stored pairing.
func (s *MemoryStore) ListPairings(_ context.Context) ([]domain.Pairing, error) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	out := make([]domain.Pairing, 0, len(s.pairings))
	for _, p := range s.pairings {
		out = append(out, p)
	}
	return out, nil
}

// DeletePairing removes a pairing. Removing a missing entry is a no-op.
func (s *MemoryStore) DeletePairing(_ context.Context, topic domain.Topic) error {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	delete(s.pairings, topic)
	return nil
}

// SaveSession inserts or replaces a session.
func (s *MemoryStore) SaveSession(_ context.Context, sess domain.Session) error {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.sessions[sess.Topic] = sess
	return nil
}

// LoadSession returns the session for topic, if present.
func (s *MemoryStore) LoadSession(_ context.Context, topic domain.Topic) (domain.Session, bool, error) {
	s.smu.Lock()
	defer s.smu.Unlock()
	sess, ok := s.sessions[topic]
	return sess, ok, nil
}

// UpdateSession applies fn to the stored session under the table lock.
func (s *MemoryStore) UpdateSession(_ context.Context, topic domain.Topic, fn func(*domain.Session) error) error {
	s.smu.Lock()
	defer s.smu.Unlock()
	sess, ok := s.sessions[topic]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&sess); err != nil {
		return err
	}
	s.sessions[topic] = sess
	return nil
}

// SessionsForPairing returns the sessions whose back-reference names the
// pairing topic.
func (s *MemoryStore) SessionsForPairing(_ context.Context, pairing domain.Topic) ([]domain.Session, error) {
	s.smu.Lock()
	defer s.smu.Unlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.PairingTopic == pairing {
			out = append(out, sess)
		}
	}
	return out, nil
}

// DeleteSession removes a session. Removing a missing entry is a no-op.
func (s *MemoryStore) DeleteSession(_ context.Context, topic domain.Topic) error {
	s.smu.Lock()
	defer s.smu.Unlock()
	delete(s.sessions, topic)
	return nil
}

var (
	_ domain.PairingStore = (*MemoryStore)(nil)
	_ domain.SessionStore = (*MemoryStore)(nil)
)
