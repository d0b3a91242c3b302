package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairlink/internal/crypto"
	"pairlink/internal/domain"
	"pairlink/internal/store"
)

func testIdentity(t *testing.T) domain.Identity {
	t.Helper()
	xPriv, xPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edPriv, edPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
}

func TestIdentityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityFileStore(dir)
	id := testIdentity(t)

	require.NoError(t, s.SaveIdentity("correct horse", id))

	got, err := s.LoadIdentity("correct horse")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityFileStore(dir)

	require.NoError(t, s.SaveIdentity("right", testIdentity(t)))

	_, err := s.LoadIdentity("wrong")
	assert.Error(t, err)
}

func TestLoadMissingIdentity(t *testing.T) {
	s := store.NewIdentityFileStore(t.TempDir())
	_, err := s.LoadIdentity("whatever")
	assert.Error(t, err)
}

func TestSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := store.NewIdentityFileStore(dir)

	first := testIdentity(t)
	second := testIdentity(t)
	require.NoError(t, s.SaveIdentity("pw", first))
	require.NoError(t, s.SaveIdentity("pw", second))

	got, err := s.LoadIdentity("pw")
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.NotEqual(t, first, got)
}
