package keyring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairlink/internal/crypto"
	"pairlink/internal/domain"
	"pairlink/internal/keyring"
)

func newRing(t *testing.T) *keyring.Keyring {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	return keyring.New(domain.Identity{XPub: xPub, XPriv: xPriv})
}

func TestEphemeralSingleUse(t *testing.T) {
	ring := newRing(t)
	eph, err := ring.GenerateKeyPair(domain.ScopeEphemeral)
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeEphemeral, eph.Scope)

	_, peerPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	// Multiple derivations within the exchange are fine.
	k1, err := ring.DeriveSharedSecret(eph, peerPub)
	require.NoError(t, err)
	k2, err := ring.DeriveSharedSecret(eph, peerPub)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Consuming ends the exchange; the pair is dead afterwards.
	require.NoError(t, ring.Consume(eph.Public))
	_, err = ring.DeriveSharedSecret(eph, peerPub)
	assert.ErrorIs(t, err, domain.ErrAlreadyConsumed)
	assert.ErrorIs(t, ring.Consume(eph.Public), domain.ErrAlreadyConsumed)
}

func TestDeriveWithUnknownEphemeral(t *testing.T) {
	ring := newRing(t)
	foreignPriv, foreignPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, peerPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	pair := domain.KeyPair{Public: foreignPub, Private: foreignPriv, Scope: domain.ScopeEphemeral}
	_, err = ring.DeriveSharedSecret(pair, peerPub)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestIdentityDerivationsUnlimited(t *testing.T) {
	ring := newRing(t)
	_, peerPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	idPair := ring.IdentityKeyPair()
	for i := 0; i < 3; i++ {
		_, err := ring.DeriveSharedSecret(idPair, peerPub)
		require.NoError(t, err)
	}
}

func TestAgreementAcrossRings(t *testing.T) {
	ringA := newRing(t)
	ringB := newRing(t)

	ephA, err := ringA.GenerateKeyPair(domain.ScopeEphemeral)
	require.NoError(t, err)

	// B derives with its identity against A's ephemeral; A derives with
	// its ephemeral against B's identity.
	kA, err := ringA.DeriveSharedSecret(ephA, ringB.Identity().XPub)
	require.NoError(t, err)
	kB, err := ringB.DeriveSharedSecret(ringB.IdentityKeyPair(), ephA.Public)
	require.NoError(t, err)
	assert.Equal(t, kA, kB)
}
