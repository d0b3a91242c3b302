// Package keyring manages the client's long-lived identity keys and its
// single-use ephemeral exchange keys.
package keyring

import (
	"encoding/hex"
	"fmt"
	"sync"

	"pairlink/internal/crypto"
	"pairlink/internal/domain"
	"pairlink/internal/util/memzero"
)

// Keyring holds the identity key pair for the life of the process and
// tracks ephemeral pairs per exchange. An ephemeral pair serves exactly one
// exchange: once Consume marks the exchange complete, any further
// derivation with the pair fails with ErrAlreadyConsumed.
type Keyring struct {
	mu       sync.Mutex
	identity domain.Identity
	pending  map[string]struct{}
	consumed map[string]struct{}
}

// New returns a keyring around an already-loaded identity.
func New(id domain.Identity) *Keyring {
	return &Keyring{
		identity: id,
		pending:  make(map[string]struct{}),
		consumed: make(map[string]struct{}),
	}
}

// Identity returns the long-lived identity key material.
func (k *Keyring) Identity() domain.Identity {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.identity
}

// IdentityKeyPair exposes the X25519 identity pair for derivations where
// the long-lived key is one side of the exchange (e.g. receiving a chat
// invite addressed to it).
func (k *Keyring) IdentityKeyPair() domain.KeyPair {
	k.mu.Lock()
	defer k.mu.Unlock()
	return domain.KeyPair{
		Public:  k.identity.XPub,
		Private: k.identity.XPriv,
		Scope:   domain.ScopeIdentity,
	}
}

// GenerateKeyPair creates a key pair with the given scope. Identity scope
// replaces the stored identity X25519 pair; ephemeral scope registers the
// pair for one exchange.
func (k *Keyring) GenerateKeyPair(scope domain.KeyScope) (domain.KeyPair, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.KeyPair{}, err
	}
	pair := domain.KeyPair{Public: pub, Private: priv, Scope: scope}

	k.mu.Lock()
	defer k.mu.Unlock()
	switch scope {
	case domain.ScopeIdentity:
		k.identity.XPub = pub
		k.identity.XPriv = priv
	case domain.ScopeEphemeral:
		k.pending[hex.EncodeToString(pub[:])] = struct{}{}
	default:
		return domain.KeyPair{}, fmt.Errorf("unknown key scope %d", scope)
	}
	return pair, nil
}

// DeriveSharedSecret runs X25519 between a local key pair and a peer public
// key and stretches the result into a symmetric key. Ephemeral pairs must
// still be pending: deriving with a consumed pair is the reuse the protocol
// forbids.
func (k *Keyring) DeriveSharedSecret(local domain.KeyPair, peer domain.X25519Public) (domain.SymKey, error) {
	if local.Scope == domain.ScopeEphemeral {
		if err := k.checkPending(local.Public); err != nil {
			return domain.SymKey{}, err
		}
	}
	dh, err := crypto.DH(local.Private, peer)
	if err != nil {
		return domain.SymKey{}, err
	}
	return crypto.DeriveSymKey(dh, "pairlink-shared")
}

// Consume marks an ephemeral pair's exchange complete. The pair can no
// longer derive anything; callers should wipe their private copy.
func (k *Keyring) Consume(pub domain.X25519Public) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := hex.EncodeToString(pub[:])
	if _, spent := k.consumed[key]; spent {
		return domain.ErrAlreadyConsumed
	}
	if _, ok := k.pending[key]; !ok {
		return fmt.Errorf("%w: unknown ephemeral key", domain.ErrInvalidKey)
	}
	delete(k.pending, key)
	k.consumed[key] = struct{}{}
	return nil
}

// WipePair clears the private half of a pair in the caller's hands.
func WipePair(p *domain.KeyPair) {
	memzero.Zero32((*[32]byte)(&p.Private))
}

func (k *Keyring) checkPending(pub domain.X25519Public) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := hex.EncodeToString(pub[:])
	if _, spent := k.consumed[key]; spent {
		return domain.ErrAlreadyConsumed
	}
	if _, ok := k.pending[key]; !ok {
		return fmt.Errorf("%w: unknown ephemeral key", domain.ErrInvalidKey)
	}
	return nil
}
