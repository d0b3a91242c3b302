// Package engine runs the message-driven core: one consumer loop per
// subscribed topic, feeding decrypted JSON-RPC traffic to the pairing and
// session state machines and correlating responses back to waiting callers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/domain"
	"pairlink/internal/envelope"
	"pairlink/internal/pairing"
	"pairlink/internal/rpc"
	"pairlink/internal/session"
)

// Timeouts is the per-call timeout policy. Propose blocks on interactive
// approval at the far end and gets a much longer budget than every other
// method.
type Timeouts struct {
	Propose time.Duration
	Request time.Duration
}

// DefaultTimeouts matches the documented policy: five minutes for propose,
// thirty seconds for everything else.
func DefaultTimeouts() Timeouts {
	return Timeouts{Propose: 5 * time.Minute, Request: 30 * time.Second}
}

type topicKind int

const (
	kindPairing topicKind = iota
	kindSession
)

type topicState struct {
	key          domain.SymKey
	kind         topicKind
	pairingTopic domain.Topic // session topics only
	cancel       context.CancelFunc
}

// Engine owns the relay subscriptions and drives both state machines. Each
// topic evolves independently; the only cross-topic state is the stores
// behind the machines, which serialize per-entry.
type Engine struct {
	relay    domain.RelayClient
	pairings *pairing.Machine
	sessions *session.Machine
	approver pairing.Approver
	timeouts Timeouts
	log      *zap.Logger

	mu      sync.Mutex
	topics  map[domain.Topic]*topicState
	pending map[uint64]chan rpc.Response

	wg sync.WaitGroup
}

// New wires an engine over a relay client and the two machines.
func New(
	relay domain.RelayClient,
	pairings *pairing.Machine,
	sessions *session.Machine,
	approver pairing.Approver,
	timeouts Timeouts,
	log *zap.Logger,
) *Engine {
	return &Engine{
		relay:    relay,
		pairings: pairings,
		sessions: sessions,
		approver: approver,
		timeouts: timeouts,
		log:      log,
		topics:   make(map[domain.Topic]*topicState),
		pending:  make(map[uint64]chan rpc.Response),
	}
}

// SubscribePairing starts consuming a pairing topic under key.
func (e *Engine) SubscribePairing(ctx context.Context, topic domain.Topic, key domain.SymKey) error {
	return e.subscribe(ctx, topic, &topicState{key: key, kind: kindPairing})
}

// SubscribeSession starts consuming a session topic under key.
// pairingTopic is the non-owning back-reference recorded when a settle
// arrives on the topic.
func (e *Engine) SubscribeSession(ctx context.Context, topic domain.Topic, key domain.SymKey, pairingTopic domain.Topic) error {
	return e.subscribe(ctx, topic, &topicState{key: key, kind: kindSession, pairingTopic: pairingTopic})
}

func (e *Engine) subscribe(ctx context.Context, topic domain.Topic, st *topicState) error {
	e.mu.Lock()
	if _, ok := e.topics[topic]; ok {
		e.mu.Unlock()
		return fmt.Errorf("already subscribed to %s", topic)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st.cancel = cancel
	e.topics[topic] = st
	e.mu.Unlock()

	ch, err := e.relay.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		e.mu.Lock()
		delete(e.topics, topic)
		e.mu.Unlock()
		return err
	}

	e.wg.Add(1)
	go e.loop(loopCtx, topic, st, ch)
	return nil
}

// Unsubscribe stops the topic's consumer loop and drops the relay
// subscription.
func (e *Engine) Unsubscribe(ctx context.Context, topic domain.Topic) error {
	e.mu.Lock()
	st, ok := e.topics[topic]
	if ok {
		st.cancel()
		delete(e.topics, topic)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.relay.Unsubscribe(ctx, topic)
}

// Close stops every consumer loop and waits for them to drain.
func (e *Engine) Close() {
	e.mu.Lock()
	for topic, st := range e.topics {
		st.cancel()
		delete(e.topics, topic)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Request publishes req on topic and blocks for the matching response. The
// timeout is the propose budget for wc_sessionPropose and the standard
// budget otherwise; ctx can cut both short.
func (e *Engine) Request(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	timeout := e.timeouts.Request
	if req.Method == rpc.MethodSessionPropose {
		timeout = e.timeouts.Propose
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := make(chan rpc.Response, 1)
	e.mu.Lock()
	e.pending[req.ID] = wait
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, req.ID)
		e.mu.Unlock()
	}()

	if err := e.publish(ctx, topic, req); err != nil {
		return rpc.Response{}, err
	}
	select {
	case resp := <-wait:
		return resp, nil
	case <-ctx.Done():
		return rpc.Response{}, fmt.Errorf("awaiting %s response on %s: %w", req.Method, topic, ctx.Err())
	}
}

// Notify publishes req without waiting for a response.
func (e *Engine) Notify(ctx context.Context, topic domain.Topic, req rpc.Request) error {
	return e.publish(ctx, topic, req)
}

func (e *Engine) publish(ctx context.Context, topic domain.Topic, v any) error {
	e.mu.Lock()
	st, ok := e.topics[topic]
	e.mu.Unlock()
	if !ok {
		return domain.ErrUnknownTopic
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env, err := envelope.Seal(payload, st.key)
	if err != nil {
		return err
	}
	return e.relay.Publish(ctx, topic, env)
}

// loop consumes one topic. Envelope-level failures are local to the single
// message; only channel closure or cancellation ends the loop.
func (e *Engine) loop(ctx context.Context, topic domain.Topic, st *topicState, ch <-chan domain.Envelope) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			e.handleEnvelope(ctx, topic, st, env)
		}
	}
}

func (e *Engine) handleEnvelope(ctx context.Context, topic domain.Topic, st *topicState, env domain.Envelope) {
	payload, err := envelope.Open(env, st.key)
	if err != nil {
		e.log.Warn("dropping undecryptable envelope",
			zap.String("topic", topic.String()), zap.Error(err))
		return
	}

	// Requests carry a method; everything else is a response.
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		e.log.Warn("dropping malformed payload", zap.String("topic", topic.String()), zap.Error(err))
		return
	}
	if probe.Method == "" {
		var resp rpc.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			e.log.Warn("dropping malformed response", zap.String("topic", topic.String()), zap.Error(err))
			return
		}
		e.deliver(resp)
		return
	}

	var req rpc.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		e.log.Warn("dropping malformed request", zap.String("topic", topic.String()), zap.Error(err))
		return
	}
	e.handleRequest(ctx, topic, st, req)
}

func (e *Engine) handleRequest(ctx context.Context, topic domain.Topic, st *topicState, req rpc.Request) {
	var (
		resp rpc.Response
		err  error
	)
	switch st.kind {
	case kindPairing:
		if req.Method == rpc.MethodSessionPropose {
			// The responder side waits for interactive approval.
			proposeCtx, cancel := context.WithTimeout(ctx, e.timeouts.Propose)
			resp, err = e.pairings.Handle(proposeCtx, topic, req, e.approver)
			cancel()
		} else {
			resp, err = e.pairings.Handle(ctx, topic, req, e.approver)
		}
	case kindSession:
		resp, err = e.sessions.Handle(ctx, topic, st.pairingTopic, req)
	}

	switch {
	case errors.Is(err, domain.ErrUnknownTopic):
		// Relays can deliver stray traffic; drop it rather than amplify.
		e.log.Debug("dropping method for unknown topic",
			zap.String("topic", topic.String()), zap.String("method", req.Method))
		return
	case err != nil:
		e.log.Error("request handling failed",
			zap.String("topic", topic.String()), zap.String("method", req.Method), zap.Error(err))
		return
	}

	if err := e.publish(ctx, topic, resp); err != nil {
		e.log.Error("publishing response failed",
			zap.String("topic", topic.String()), zap.Error(err))
	}
}

// deliver hands a response to the caller waiting on its id. Duplicate
// deliveries (at-least-once relay) find no pending entry and are dropped.
func (e *Engine) deliver(resp rpc.Response) {
	e.mu.Lock()
	wait, ok := e.pending[resp.ID]
	if ok {
		delete(e.pending, resp.ID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug("response with no pending request dropped", zap.Uint64("id", resp.ID))
		return
	}
	wait <- resp
}
