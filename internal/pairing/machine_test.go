package pairing_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pairlink/internal/crypto"
	"pairlink/internal/domain"
	"pairlink/internal/pairing"
	"pairlink/internal/rpc"
	"pairlink/internal/store"
)

type stubApprover struct {
	decision pairing.Decision
	err      error
	seen     *domain.Pairing
}

func (a *stubApprover) ApprovePairing(_ context.Context, p domain.Pairing) (pairing.Decision, error) {
	if a.seen != nil {
		*a.seen = p
	}
	return a.decision, a.err
}

func newKey(t *testing.T) domain.X25519Public {
	t.Helper()
	_, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	return pub
}

func proposeRequest(t *testing.T, proposer domain.X25519Public, relays []domain.RelayParams) rpc.Request {
	t.Helper()
	req, err := rpc.NewRequest(rpc.MethodSessionPropose, rpc.SessionProposeParams{
		Relays:            relays,
		ProposerPublicKey: hex.EncodeToString(proposer[:]),
		Metadata:          domain.ProposerMetadata{Name: "test app"},
		RequiredNamespaces: domain.Namespaces{
			"eip155": {Chains: []string{"eip155:1"}, Methods: []string{"eth_sign"}, Events: []string{"accountsChanged"}},
		},
	})
	require.NoError(t, err)
	return req
}

func TestProposeAndSettle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	topic := domain.Topic("ptopic")
	self := newKey(t)
	relays := []domain.RelayParams{{Protocol: "irn"}}

	req, err := m.Propose(ctx, topic, self, domain.ProposerMetadata{Name: "app"}, relays, nil)
	require.NoError(t, err)
	assert.Equal(t, rpc.MethodSessionPropose, req.Method)

	p, ok, err := st.LoadPairing(ctx, topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PairingProposed, p.State)

	peer := newKey(t)
	err = m.Settle(ctx, topic, rpc.SessionProposeResult{
		Relay:              domain.RelayParams{Protocol: "irn"},
		ResponderPublicKey: hex.EncodeToString(peer[:]),
	})
	require.NoError(t, err)

	p, _, err = st.LoadPairing(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, domain.PairingSettled, p.State)
	assert.Equal(t, peer, p.PeerPublicKey)

	// Settling twice is a state violation, not an idempotent success.
	err = m.Settle(ctx, topic, rpc.SessionProposeResult{
		ResponderPublicKey: hex.EncodeToString(peer[:]),
	})
	assert.Error(t, err)
}

func TestHandleProposeApproved(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	proposer := newKey(t)
	responder := newKey(t)
	req := proposeRequest(t, proposer, []domain.RelayParams{{Protocol: "irn"}})

	var seen domain.Pairing
	approver := &stubApprover{
		decision: pairing.Decision{Approved: true, ResponderKey: responder},
		seen:     &seen,
	}

	topic := domain.Topic("ptopic")
	res, err := m.Handle(ctx, topic, req, approver)
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.Equal(t, req.ID, res.ID)

	// The approver saw the proposal before any settlement happened.
	assert.Equal(t, domain.PairingProposed, seen.State)
	assert.Equal(t, proposer, seen.PeerPublicKey)
	assert.Equal(t, "test app", seen.Metadata.Name)

	var result rpc.SessionProposeResult
	require.NoError(t, json.Unmarshal(res.Result, &result))
	assert.Equal(t, hex.EncodeToString(responder[:]), result.ResponderPublicKey)
	assert.Equal(t, "irn", result.Relay.Protocol)

	p, ok, err := st.LoadPairing(ctx, topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PairingSettled, p.State)
	assert.Equal(t, responder, p.SelfPublicKey)
}

func TestHandleProposeRelayOverride(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	req := proposeRequest(t, newKey(t), []domain.RelayParams{{Protocol: "irn"}})
	approver := &stubApprover{decision: pairing.Decision{
		Approved:     true,
		ResponderKey: newKey(t),
		Relay:        domain.RelayParams{Protocol: "waku"},
	}}

	res, err := m.Handle(ctx, domain.Topic("ptopic"), req, approver)
	require.NoError(t, err)
	require.Nil(t, res.Error)

	var result rpc.SessionProposeResult
	require.NoError(t, json.Unmarshal(res.Result, &result))
	assert.Equal(t, "waku", result.Relay.Protocol)

	p, _, err := st.LoadPairing(ctx, domain.Topic("ptopic"))
	require.NoError(t, err)
	assert.Equal(t, "waku", p.Relay.Protocol)
}

func TestHandleProposeRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	req := proposeRequest(t, newKey(t), []domain.RelayParams{{Protocol: "irn"}})
	res, err := m.Handle(ctx, domain.Topic("ptopic"), req, &stubApprover{})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeUserRejected, res.Error.Code)

	// Rejection leaves no pairing behind.
	_, ok, err := st.LoadPairing(ctx, domain.Topic("ptopic"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleProposeApproverTimeout(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	req := proposeRequest(t, newKey(t), []domain.RelayParams{{Protocol: "irn"}})
	approver := &stubApprover{err: context.DeadlineExceeded}

	res, err := m.Handle(ctx, domain.Topic("ptopic"), req, approver)
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeUserRejected, res.Error.Code)
}

func TestPingUnknownTopic(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	req, err := rpc.NewRequest(rpc.MethodPairingPing, rpc.PingParams{})
	require.NoError(t, err)

	_, err = m.Handle(ctx, domain.Topic("ghost"), req, &stubApprover{})
	assert.ErrorIs(t, err, domain.ErrUnknownTopic)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := pairing.NewMachine(st, st, zap.NewNop())

	topic := domain.Topic("ptopic")
	require.NoError(t, st.SavePairing(ctx, domain.Pairing{Topic: topic, State: domain.PairingSettled}))
	for _, s := range []domain.Topic{"s1", "s2", "s3"} {
		require.NoError(t, st.SaveSession(ctx, domain.Session{
			Topic: s, PairingTopic: topic, State: domain.SessionActive,
		}))
	}
	require.NoError(t, st.SaveSession(ctx, domain.Session{
		Topic: "other", PairingTopic: domain.Topic("unrelated"), State: domain.SessionActive,
	}))

	req, err := rpc.NewRequest(rpc.MethodPairingDelete, rpc.DeleteParams{Code: 6000, Message: "user disconnected"})
	require.NoError(t, err)
	res, err := m.Handle(ctx, topic, req, &stubApprover{})
	require.NoError(t, err)
	require.Nil(t, res.Error)

	_, ok, err := st.LoadPairing(ctx, topic)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, s := range []domain.Topic{"s1", "s2", "s3"} {
		sess, ok, err := st.LoadSession(ctx, s)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.SessionDeleted, sess.State)
	}
	unrelated, _, err := st.LoadSession(ctx, domain.Topic("other"))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, unrelated.State)

	// A second delete of the same topic still succeeds.
	assert.NoError(t, m.Delete(ctx, topic, 6000, "again"))
}
