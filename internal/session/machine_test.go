package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pairlink/internal/domain"
	"pairlink/internal/rpc"
	"pairlink/internal/store"
)

type recordSink struct {
	requests []string
	events   []string
	reply    json.RawMessage
	err      error
}

func (s *recordSink) OnRequest(_ context.Context, _ domain.Topic, chainID, method string, _ json.RawMessage) (json.RawMessage, error) {
	s.requests = append(s.requests, chainID+"/"+method)
	return s.reply, s.err
}

func (s *recordSink) OnEvent(_ context.Context, _ domain.Topic, chainID, name string, _ json.RawMessage) error {
	s.events = append(s.events, chainID+"/"+name)
	return s.err
}

const baseTime = int64(1_700_000_000)

func testMachine(t *testing.T, sink Sink) (*Machine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	m := NewMachine(st, sink, zap.NewNop())
	m.now = func() int64 { return baseTime }
	return m, st
}

func settledSession(t *testing.T, st *store.MemoryStore, topic domain.Topic, expiry int64) {
	t.Helper()
	err := st.SaveSession(context.Background(), domain.Session{
		Topic:        topic,
		PairingTopic: domain.Topic("parent"),
		Namespaces: domain.Namespaces{
			"eip155": {
				Chains:  []string{"eip155:1"},
				Methods: []string{"eth_sign"},
				Events:  []string{"accountsChanged"},
			},
		},
		Expiry:     expiry,
		State:      domain.SessionSettled,
		CreatedUTC: baseTime,
	})
	require.NoError(t, err)
}

func request(t *testing.T, method string, params any) rpc.Request {
	t.Helper()
	req, err := rpc.NewRequest(method, params)
	require.NoError(t, err)
	return req
}

func sessionRequest(t *testing.T, chainID, method string) rpc.Request {
	t.Helper()
	var p rpc.SessionRequestParams
	p.ChainID = chainID
	p.Request.Method = method
	p.Request.Params = json.RawMessage(`{}`)
	return request(t, rpc.MethodSessionRequest, p)
}

func sessionEvent(t *testing.T, chainID, name string) rpc.Request {
	t.Helper()
	var p rpc.SessionEventParams
	p.ChainID = chainID
	p.Event.Name = name
	p.Event.Data = json.RawMessage(`{}`)
	return request(t, rpc.MethodSessionEvent, p)
}

func TestSettleOutbound(t *testing.T) {
	m, st := testMachine(t, nil)
	ctx := context.Background()

	var controller domain.X25519Public
	controller[0] = 7

	req, err := m.Settle(ctx, domain.Topic("s1"), domain.Topic("p1"), controller,
		domain.RelayParams{Protocol: "irn"},
		domain.Namespaces{"eip155": {Chains: []string{"eip155:1"}, Methods: []string{"eth_sign"}, Events: nil}},
		baseTime+3600,
	)
	require.NoError(t, err)
	assert.Equal(t, rpc.MethodSessionSettle, req.Method)

	var params rpc.SessionSettleParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, hex.EncodeToString(controller[:]), params.Controller)

	s, ok, err := st.LoadSession(ctx, domain.Topic("s1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SessionSettled, s.State)
	assert.Equal(t, domain.Topic("p1"), s.PairingTopic)
}

func TestHandleSettleInbound(t *testing.T) {
	m, st := testMachine(t, nil)
	ctx := context.Background()

	var controller domain.X25519Public
	controller[0] = 9
	req := request(t, rpc.MethodSessionSettle, rpc.SessionSettleParams{
		Relay:      domain.RelayParams{Protocol: "irn"},
		Controller: hex.EncodeToString(controller[:]),
		Namespaces: domain.Namespaces{"eip155": {Chains: []string{"eip155:1"}, Methods: []string{"eth_sign"}}},
		Expiry:     baseTime + 3600,
	})

	res, err := m.Handle(ctx, domain.Topic("s1"), domain.Topic("p1"), req)
	require.NoError(t, err)
	require.Nil(t, res.Error)

	s, ok, err := st.LoadSession(ctx, domain.Topic("s1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, controller, s.ControllerKey)
	assert.Equal(t, domain.Topic("p1"), s.PairingTopic)
}

func TestRequestAuthorizationGate(t *testing.T) {
	sink := &recordSink{reply: json.RawMessage(`"0xsigned"`)}
	m, st := testMachine(t, sink)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)

	// Granted method passes and reaches the sink.
	res, err := m.Handle(ctx, topic, "", sessionRequest(t, "eip155:1", "eth_sign"))
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.Equal(t, json.RawMessage(`"0xsigned"`), res.Result)
	assert.Equal(t, []string{"eip155:1/eth_sign"}, sink.requests)

	// First accepted traffic activates the session.
	s, _, err := st.LoadSession(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, s.State)

	// Ungranted method on a granted chain.
	res, err = m.Handle(ctx, topic, "", sessionRequest(t, "eip155:1", "eth_sendTransaction"))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeUnauthorizedMethod, res.Error.Code)

	// Granted method on an ungranted chain.
	res, err = m.Handle(ctx, topic, "", sessionRequest(t, "eip155:42", "eth_sign"))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeUnauthorizedMethod, res.Error.Code)

	// Nothing unauthorized reached the sink.
	assert.Len(t, sink.requests, 1)
}

func TestEventAuthorizationGate(t *testing.T) {
	sink := &recordSink{}
	m, st := testMachine(t, sink)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)

	res, err := m.Handle(ctx, topic, "", sessionEvent(t, "eip155:1", "accountsChanged"))
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.Equal(t, []string{"eip155:1/accountsChanged"}, sink.events)

	res, err = m.Handle(ctx, topic, "", sessionEvent(t, "eip155:1", "chainChanged"))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeUnauthorizedEvent, res.Error.Code)
	assert.Len(t, sink.events, 1)
}

func TestSinkFailureIsNotAParameterError(t *testing.T) {
	sink := &recordSink{err: fmt.Errorf("signer unavailable")}
	m, st := testMachine(t, sink)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)

	res, err := m.Handle(ctx, topic, "", sessionRequest(t, "eip155:1", "eth_sign"))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeRequestFailed, res.Error.Code)
	assert.Len(t, sink.requests, 1)

	res, err = m.Handle(ctx, topic, "", sessionEvent(t, "eip155:1", "accountsChanged"))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeRequestFailed, res.Error.Code)
}

func TestUpdateReplacesNamespaces(t *testing.T) {
	m, st := testMachine(t, nil)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)

	req := request(t, rpc.MethodSessionUpdate, rpc.SessionUpdateParams{
		Namespaces: domain.Namespaces{"cosmos": {Chains: []string{"cosmos:hub"}, Methods: []string{"cosmos_sign"}}},
	})
	res, err := m.Handle(ctx, topic, "", req)
	require.NoError(t, err)
	require.Nil(t, res.Error)

	s, _, err := st.LoadSession(ctx, topic)
	require.NoError(t, err)
	assert.True(t, s.Namespaces.AllowsMethod("cosmos:hub", "cosmos_sign"))
	assert.False(t, s.Namespaces.AllowsMethod("eip155:1", "eth_sign"))
}

func TestUpdateAfterDelete(t *testing.T) {
	m, st := testMachine(t, nil)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)
	require.NoError(t, m.Delete(ctx, topic, 6000, "done"))

	req := request(t, rpc.MethodSessionUpdate, rpc.SessionUpdateParams{
		Namespaces: domain.Namespaces{"eip155": {Chains: []string{"eip155:1"}, Methods: []string{"eth_sign"}}},
	})
	res, err := m.Handle(ctx, topic, "", req)
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeSessionNotActive, res.Error.Code)
}

func TestExtend(t *testing.T) {
	m, st := testMachine(t, nil)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)

	// Later expiry is accepted.
	res, err := m.Handle(ctx, topic, "", request(t, rpc.MethodSessionExtend, rpc.SessionExtendParams{Expiry: baseTime + 7200}))
	require.NoError(t, err)
	require.Nil(t, res.Error)

	s, _, err := st.LoadSession(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, baseTime+7200, s.Expiry)

	// Equal and earlier expiries are hard rejections that change nothing.
	for _, expiry := range []int64{baseTime + 7200, baseTime + 60} {
		res, err = m.Handle(ctx, topic, "", request(t, rpc.MethodSessionExtend, rpc.SessionExtendParams{Expiry: expiry}))
		require.NoError(t, err)
		require.NotNil(t, res.Error, "expiry %d", expiry)
		assert.Equal(t, rpc.CodeStaleExpiry, res.Error.Code)
	}
	s, _, err = st.LoadSession(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, baseTime+7200, s.Expiry)
}

func TestExpiredSessionRefusesTraffic(t *testing.T) {
	sink := &recordSink{reply: json.RawMessage(`true`)}
	m, st := testMachine(t, sink)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime-1)

	res, err := m.Handle(ctx, topic, "", sessionRequest(t, "eip155:1", "eth_sign"))
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, rpc.CodeSessionNotActive, res.Error.Code)
	assert.Empty(t, sink.requests)
}

func TestPingAndDelete(t *testing.T) {
	m, st := testMachine(t, nil)
	ctx := context.Background()
	topic := domain.Topic("s1")
	settledSession(t, st, topic, baseTime+3600)

	res, err := m.Handle(ctx, topic, "", request(t, rpc.MethodSessionPing, rpc.PingParams{}))
	require.NoError(t, err)
	require.Nil(t, res.Error)

	_, err = m.Handle(ctx, domain.Topic("ghost"), "", request(t, rpc.MethodSessionPing, rpc.PingParams{}))
	assert.ErrorIs(t, err, domain.ErrUnknownTopic)

	del := request(t, rpc.MethodSessionDelete, rpc.DeleteParams{Code: 6000, Message: "bye"})
	res, err = m.Handle(ctx, topic, "", del)
	require.NoError(t, err)
	require.Nil(t, res.Error)

	s, _, err := st.LoadSession(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionDeleted, s.State)

	// Delete is idempotent, on known and unknown topics alike.
	res, err = m.Handle(ctx, topic, "", del)
	require.NoError(t, err)
	require.Nil(t, res.Error)
	assert.NoError(t, m.Delete(ctx, domain.Topic("ghost"), 6000, "noop"))
}

func TestExtendParamsDecode(t *testing.T) {
	var p rpc.SessionExtendParams
	raw := json.RawMessage(fmt.Sprintf(`{"expiry":%d}`, baseTime+60))
	require.NoError(t, rpc.DecodeParams(raw, &p))
	assert.Equal(t, baseTime+60, p.Expiry)
}
