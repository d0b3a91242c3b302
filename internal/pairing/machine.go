// Package pairing implements the pairing lifecycle state machine:
// Proposed -> Settled -> Deleted (terminal).
package pairing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pairlink/internal/domain"
	"pairlink/internal/rpc"
)

// Decision is the responder's verdict on a proposal. When Approved, the
// responder supplies its public key and relay preference; a preference that
// differs from the proposed relay wins.
type Decision struct {
	Approved     bool
	ResponderKey domain.X25519Public
	Relay        domain.RelayParams
}

// Approver is the interactive hook consulted when a proposal arrives. The
// context carries the extended propose timeout; on cancellation the machine
// emits a rejection response rather than going silent, so the proposer's
// state machine is not left hanging in Proposed.
type Approver interface {
	ApprovePairing(ctx context.Context, p domain.Pairing) (Decision, error)
}

// Machine drives pairing state over the pairing and session stores. Deleting
// a pairing cascades to every session settled under it; the reverse never
// happens.
type Machine struct {
	pairings domain.PairingStore
	sessions domain.SessionStore
	log      *zap.Logger
}

// NewMachine returns a pairing machine over the given stores.
func NewMachine(pairings domain.PairingStore, sessions domain.SessionStore, log *zap.Logger) *Machine {
	return &Machine{pairings: pairings, sessions: sessions, log: log}
}

// Propose records an outbound proposal on topic and returns the request to
// publish.
func (m *Machine) Propose(
	ctx context.Context,
	topic domain.Topic,
	selfPub domain.X25519Public,
	meta domain.ProposerMetadata,
	relays []domain.RelayParams,
	required domain.Namespaces,
) (rpc.Request, error) {
	if len(relays) == 0 {
		return rpc.Request{}, fmt.Errorf("propose: at least one relay required")
	}
	p := domain.Pairing{
		Topic:              topic,
		SelfPublicKey:      selfPub,
		Metadata:           meta,
		RequiredNamespaces: required,
		Relay:              relays[0],
		State:              domain.PairingProposed,
		CreatedUTC:         time.Now().Unix(),
	}
	if err := m.pairings.SavePairing(ctx, p); err != nil {
		return rpc.Request{}, err
	}
	return rpc.NewRequest(rpc.MethodSessionPropose, rpc.SessionProposeParams{
		Relays:             relays,
		ProposerPublicKey:  hex.EncodeToString(selfPub[:]),
		Metadata:           meta,
		RequiredNamespaces: required,
	})
}

// Settle applies the responder's approval on the proposer side. If the
// responder chose a different relay than proposed, its choice is adopted.
func (m *Machine) Settle(ctx context.Context, topic domain.Topic, res rpc.SessionProposeResult) error {
	peer, err := decodeKey(res.ResponderPublicKey)
	if err != nil {
		return err
	}
	return m.pairings.UpdatePairing(ctx, topic, func(p *domain.Pairing) error {
		if p.State != domain.PairingProposed {
			return fmt.Errorf("pairing %s is %s, not proposed", topic, p.State)
		}
		p.PeerPublicKey = peer
		p.Relay = res.Relay
		p.State = domain.PairingSettled
		return nil
	})
}

// Handle dispatches an inbound pairing-scoped request and returns the
// response to publish back. Unknown topics surface domain.ErrUnknownTopic
// for the caller to log and drop.
func (m *Machine) Handle(ctx context.Context, topic domain.Topic, req rpc.Request, approver Approver) (rpc.Response, error) {
	switch req.Method {
	case rpc.MethodSessionPropose:
		return m.handlePropose(ctx, topic, req, approver)
	case rpc.MethodPairingPing:
		return m.handlePing(ctx, topic, req)
	case rpc.MethodPairingDelete:
		return m.handleDelete(ctx, topic, req)
	default:
		return rpc.Response{}, fmt.Errorf("pairing: unhandled method %q", req.Method)
	}
}

func (m *Machine) handlePropose(ctx context.Context, topic domain.Topic, req rpc.Request, approver Approver) (rpc.Response, error) {
	var params rpc.SessionProposeParams
	if err := rpc.DecodeParams(req.Params, &params); err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, err.Error()), nil
	}
	peer, err := decodeKey(params.ProposerPublicKey)
	if err != nil {
		return rpc.Fail(req.ID, rpc.CodeInvalidParams, "bad proposer public key"), nil
	}

	p := domain.Pairing{
		Topic:              topic,
		PeerPublicKey:      peer,
		Metadata:           params.Metadata,
		RequiredNamespaces: params.RequiredNamespaces,
		Relay:              params.Relays[0],
		State:              domain.PairingProposed,
		CreatedUTC:         time.Now().Unix(),
	}
	if err := m.pairings.SavePairing(ctx, p); err != nil {
		return rpc.Response{}, err
	}

	// Blocks for interactive approval; ctx carries the extended timeout.
	decision, err := approver.ApprovePairing(ctx, p)
	if err != nil || !decision.Approved {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.log.Warn("pairing approval failed", zap.String("topic", topic.String()), zap.Error(err))
		}
		// Rejection is terminal for this attempt.
		_ = m.pairings.DeletePairing(ctx, topic)
		return rpc.Fail(req.ID, rpc.CodeUserRejected, "pairing rejected"), nil
	}

	relay := params.Relays[0]
	if decision.Relay.Protocol != "" && decision.Relay.Protocol != relay.Protocol {
		relay = decision.Relay
	}
	err = m.pairings.UpdatePairing(ctx, topic, func(p *domain.Pairing) error {
		p.SelfPublicKey = decision.ResponderKey
		p.Relay = relay
		p.State = domain.PairingSettled
		return nil
	})
	if err != nil {
		return rpc.Response{}, err
	}
	return rpc.Result(req.ID, rpc.SessionProposeResult{
		Relay:              relay,
		ResponderPublicKey: hex.EncodeToString(decision.ResponderKey[:]),
	}), nil
}

func (m *Machine) handlePing(ctx context.Context, topic domain.Topic, req rpc.Request) (rpc.Response, error) {
	if _, ok, err := m.pairings.LoadPairing(ctx, topic); err != nil {
		return rpc.Response{}, err
	} else if !ok {
		return rpc.Response{}, domain.ErrUnknownTopic
	}
	return rpc.OK(req.ID), nil
}

// handleDelete tears down the pairing and cascades to its sessions. It is
// idempotent: deleting an unknown or already-deleted pairing succeeds.
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

// Delete removes a pairing and every session under it. Safe to call twice.
func (m *Machine) Delete(ctx context.Context, topic domain.Topic, code int, reason string) error {
	children, err := m.sessions.SessionsForPairing(ctx, topic)
	if err != nil {
		return err
	}
	for _, s := range children {
		err := m.sessions.UpdateSession(ctx, s.Topic, func(s *domain.Session) error {
			s.State = domain.SessionDeleted
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		m.log.Debug("cascade session delete",
			zap.String("pairing", topic.String()),
			zap.String("session", s.Topic.String()))
	}
	if err := m.pairings.DeletePairing(ctx, topic); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	m.log.Info("pairing deleted",
		zap.String("topic", topic.String()),
		zap.Int("code", code),
		zap.String("reason", reason))
	return nil
}

func decodeKey(s string) (domain.X25519Public, error) {
	var pub domain.X25519Public
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(pub) {
		return pub, fmt.Errorf("%w: bad public key encoding", domain.ErrInvalidKey)
	}
	copy(pub[:], raw)
	return pub, nil
}
