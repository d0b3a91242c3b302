// Package session implements the session lifecycle state machine:
// Settled -> Active -> Deleted (terminal), with Active collapsing to
// Expired once the wall clock passes the session expiry.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/domain"
	"pairlink/internal/rpc"
)

// Sink receives application traffic that cleared the namespace authorization
// gate. Anything outside the grant never reaches it.
type Sink interface {
	OnRequest(ctx context.Context, topic domain.Topic, chainID, method string, params json.RawMessage) (json.RawMessage, error)
	OnEvent(ctx context.Context, topic domain.Topic, chainID, name string, data json.RawMessage) error
}

// Machine drives session state over the session store.
type Machine struct {
	sessions domain.SessionStore
	sink     Sink
	log      *zap.Logger
	now      func() int64
}

// NewMachine returns a session machine over the given store. sink may be nil
// when the local side never serves application requests.
func NewMachine(sessions domain.SessionStore, sink Sink, log *zap.Logger) *Machine {
	return &Machine{
		sessions: sessions,
		sink:     sink,
		log:      log,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Settle records an outbound settlement on topic and returns the request to
// publish on it.
func (m *Machine) Settle(
	ctx context.Context,
	topic, pairingTopic domain.Topic,
	controller domain.X25519Public,
	relay domain.RelayParams,
	namespaces domain.Namespaces,
	expiry int64,
) (rpc.Request, error) {
	s := domain.Session{
		Topic:         topic,
		PairingTopic:  pairingTopic,
		ControllerKey: controller,
		Namespaces:    namespaces,
		Relay:         relay,
		Expiry:        expiry,
		State:         domain.SessionSettled,
		CreatedUTC:    m.now(),
	}
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return rpc.Request{}, err
	}
	return rpc.NewRequest(rpc.MethodSessionSettle, rpc.SessionSettleParams{
		Relay:      relay,
		Controller: hex.EncodeToString(controller[:]),
		Namespaces: namespaces,
		Expiry:     expiry,
	})
}

// Handle dispatches an inbound session-scoped request. pairingTopic is the
// back-reference recorded when a settle arrives on a fresh topic.
func (m *Machine) Handle(ctx context.Context, topic, pairingTopic domain.Topic, req rpc.Request) (rpc.Response, error) {
	switch req.Method {
	case rpc.MethodSessionSettle:
		return m.handleSettle(ctx, topic, pairingTopic, req)
	case rpc.MethodSessionUpdate:
		return m.handleUpdate(ctx, topic, req)
	case rpc.MethodSessionExtend:
		return m.handleExtend(ctx, topic, req)
	case rpc.MethodSessionRequest:
		return m.handleRequest(ctx, topic, req)
	case rpc.MethodSessionEvent:
		return m.handleEvent(ctx, topic, req)
	case rpc.MethodSessionPing:
		return m.handlePing(ctx, topic, req)
	case rpc.MethodSessionDelete:
		return m.handleDelete(ctx, topic, req)
	default:
		return rpc.Response{}, fmt.Errorf("session: unhandled method %q", req.Method)
	}
}

func (m *Machine) handleSettle(ctx context.Context, topic, pairingTopic domain.Topic, req rpc.Request) (rpc.Response, error) {
	var params rpc.SessionSettleParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	controller, err := hex.DecodeString(params.Controller)
	if err != nil || len(controller) != 32 {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, "bad controller key"), nil
	}
	var ck domain.X25519Public
	copy(ck[:], controller)

	s := domain.Session{
		Topic:         topic,
		PairingTopic:  pairingTopic,
		ControllerKey: ck,
		Namespaces:    params.Namespaces,
		Relay:         params.Relay,
		Expiry:        params.Expiry,
		State:         domain.SessionSettled,
		CreatedUTC:    m.now(),
	}
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return rpc.Response{}, err
	}
	return rpc.OK(req.ID), nil
}

func (m *Machine) handleUpdate(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	var params rpc.SessionUpdateParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	err := m.mutateLive(ctx, topic, func(s *domain.Session) error {
		s.Namespaces = params.Namespaces
		return nil
	})
	if errors.Is(err, errNotLive) {
		return rpc.Fail(req.ID, rpc.CodeSessionNotActive, "session deleted or expired"), nil
	}
	if err != nil {
		return rpc.Response{}, err
	}
	return rpc.OK(req.ID), nil
}

// handleExtend hard-rejects any expiry at or before the stored one.
// Shortening a session's life through "extend" is contradictory, and a
// silent clamp would leave the two sides disagreeing about the expiry.
func (m *Machine) handleExtend(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	var params rpc.SessionExtendParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	err := m.mutateLive(ctx, topic, func(s *domain.Session) error {
		if params.Expiry <= s.Expiry {
			return domain.ErrStaleExpiry
		}
		s.Expiry = params.Expiry
		return nil
	})
	switch {
	case errors.Is(err, errNotLive):
		return rpc.Fail(req.ID, rpc.CodeSessionNotActive, "session deleted or expired"), nil
	case errors.Is(err, domain.ErrStaleExpiry):
		return rpc.Fail(req.ID, rpc.CodeStaleExpiry, "expiry does not extend the session"), nil
	case err != nil:
		return rpc.Response{}, err
	}
	return rpc.OK(req.ID), nil
}

// handleRequest applies the authorization gate before any forwarding. An
// ungranted (chainId, method) pair yields an immediate error response and
// never reaches the sink.
func (m *Machine) handleRequest(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	var params rpc.SessionRequestParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	s, resp, err := m.live(ctx, topic, req.ID)
	if err != nil || resp != nil {
		return deref(resp), err
	}
	if !s.Namespaces.AllowsMethod(params.ChainID, params.Request.Method) {
		m.log.Warn("unauthorized session request",
			zap.String("topic", topic.String()),
			zap.String("chain", params.ChainID),
			zap.String("method", params.Request.Method))
		return rpc.Fail(req.ID, rpc.CodeUnauthorizedMethod, domain.ErrUnauthorizedMethod.Error()), nil
	}
	if m.sink == nil {
		return rpc.Fail(req.ID, rpc.CodeRequestFailed, "no request handler"), nil
	}
	result, err := m.sink.OnRequest(ctx, topic, params.ChainID, params.Request.Method, params.Request.Params)
	if err != nil {
		return rpc.Fail(req.ID, rpc.CodeRequestFailed, err.Error()), nil
	}
	m.activate(ctx, topic)
	return rpc.Result(req.ID, json.RawMessage(result)), nil
}

func (m *Machine) handleEvent(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	var params rpc.SessionEventParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	s, resp, err := m.live(ctx, topic, req.ID)
	if err != nil || resp != nil {
		return deref(resp), err
	}
	if !s.Namespaces.AllowsEvent(params.ChainID, params.Event.Name) {
		m.log.Warn("unauthorized session event",
			zap.String("topic", topic.String()),
			zap.String("chain", params.ChainID),
			zap.String("event", params.Event.Name))
		return rpc.Fail(req.ID, rpc.CodeUnauthorizedEvent, domain.ErrUnauthorizedEvent.Error()), nil
	}
	if m.sink != nil {
		if err := m.sink.OnEvent(ctx, topic, params.ChainID, params.Event.Name, params.Event.Data); err != nil {
			return rpc.Fail(req.ID, rpc.CodeRequestFailed, err.Error()), nil
		}
	}
	m.activate(ctx, topic)
	return rpc.OK(req.ID), nil
}

func (m *Machine) handlePing(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	if _, ok, err := m.sessions.LoadSession(ctx, topic); err != nil {
		return rpc.Response{}, err
	} else if !ok {
		return rpc.Response{}, domain.ErrUnknownTopic
	}
	return rpc.OK(req.ID), nil
}

// handleDelete is idempotent like pairing delete. It never touches the
// parent pairing.
func (m *Machine) handleDelete(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	var params rpc.DeleteParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	if err := m.Delete(ctx, topic, params.Code, params.Message); err != nil {
		return rpc.Response{}, err
	}
	return rpc.OK(req.ID), nil
}

// Delete marks a session deleted. Safe to call twice.
func (m *Machine) Delete(ctx context.Context, topic domain.Topic, code int, reason string) error {
	err := m.sessions.UpdateSession(ctx, topic, func(s *domain.Session) error {
		s.State = domain.SessionDeleted
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	m.log.Info("session deleted",
		zap.String("topic", topic.String()),
		zap.Int("code", code),
		zap.String("reason", reason))
	return nil
}

var errNotLive = errors.New("session not live")

// live loads the session and folds in expiry. The returned response pointer
// is non-nil when the caller should answer with it directly.
func (m *Machine) live(ctx context.Context, topic domain.Topic, id uint64) (domain.Session, *rpc.Response, error) {
	s, ok, err := m.sessions.LoadSession(ctx, topic)
	if err != nil {
		return domain.Session{}, nil, err
	}
	if !ok {
		return domain.Session{}, nil, domain.ErrUnknownTopic
	}
	switch s.EffectiveState(m.now()) {
	case domain.SessionDeleted, domain.SessionExpired:
		resp := rpc.Fail(id, rpc.CodeSessionNotActive, "session "+s.EffectiveState(m.now()).String())
		return domain.Session{}, &resp, nil
	}
	return s, nil, nil
}

// mutateLive applies fn only while the session is settled or active.
func (m *Machine) mutateLive(ctx context.Context, topic domain.Topic, fn func(*domain.Session) error) error {
	err := m.sessions.UpdateSession(ctx, topic, func(s *domain.Session) error {
		switch s.EffectiveState(m.now()) {
		case domain.SessionDeleted, domain.SessionExpired:
			return errNotLive
		}
		return fn(s)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUnknownTopic
	}
	return err
}

// activate promotes a settled session to active after its first accepted
// traffic.
func (m *Machine) activate(ctx context.Context, topic domain.Topic) {
	_ = m.sessions.UpdateSession(ctx, topic, func(s *domain.Session) error {
		if s.State == domain.SessionSettled {
			s.State = domain.SessionActive
		}
		return nil
	})
}

func deref(r *rpc.Response) rpc.Response {
	if r == nil {
		return rpc.Response{}
	}
	return *r
}
