package domain

import "context"

// IdentityStore persists the long-term identity keys, encrypted at rest.
type IdentityStore interface {
	SaveIdentity(passphrase string, id Identity) error
	LoadIdentity(passphrase string) (Identity, error)
}

// PairingStore persists pairings keyed by topic. Updates to a given topic
// are serialized by the store; Update applies fn under the per-topic lock.
type PairingStore interface {
	SavePairing(ctx context.Context, p Pairing) error
	LoadPairing(ctx context.Context, topic Topic) (Pairing, bool, error)
	UpdatePairing(ctx context.Context, topic Topic, fn func(*Pairing) error) error
	ListPairings(ctx context.Context) ([]Pairing, error)
	DeletePairing(ctx context.Context, topic Topic) error
}

// SessionStore persists sessions keyed by topic, with the same per-topic
// serialization discipline as PairingStore.
type SessionStore interface {
	SaveSession(ctx context.Context, s Session) error
	LoadSession(ctx context.Context, topic Topic) (Session, bool, error)
	UpdateSession(ctx context.Context, topic Topic, fn func(*Session) error) error
	// SessionsForPairing returns every session whose back-reference names
	// the pairing topic. Used for cascade deletion.
	SessionsForPairing(ctx context.Context, pairing Topic) ([]Session, error)
	DeleteSession(ctx context.Context, topic Topic) error
}
