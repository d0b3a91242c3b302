package rpc

import (
	"encoding/json"
	"fmt"

	"pairlink/internal/domain"
)

// SessionProposeParams opens a pairing: the proposer names its relay
// options, identity key, metadata, and the namespaces it requires.
type SessionProposeParams struct {
	Relays             []domain.RelayParams    `json:"relays"`
	ProposerPublicKey  string                  `json:"proposerPublicKey"`
	Metadata           domain.ProposerMetadata `json:"metadata"`
	RequiredNamespaces domain.Namespaces       `json:"requiredNamespaces"`
}

// SessionProposeResult is the responder's approval: its public key and the
// final relay choice. If it differs from the proposed relay, the proposer
// adopts it.
type SessionProposeResult struct {
	Relay              domain.RelayParams `json:"relay"`
	ResponderPublicKey string             `json:"responderPublicKey"`
}

// SessionSettleParams establishes a session on its own topic.
type SessionSettleParams struct {
	Relay      domain.RelayParams `json:"relay"`
	Controller string             `json:"controller"`
	Namespaces domain.Namespaces  `json:"namespaces"`
	Expiry     int64              `json:"expiry"`
}

// SessionUpdateParams replaces the session namespace set.
type SessionUpdateParams struct {
	Namespaces domain.Namespaces `json:"namespaces"`
}

// SessionExtendParams moves the session expiry to a later absolute time.
type SessionExtendParams struct {
	Expiry int64 `json:"expiry"`
}

// SessionRequestParams forwards an application call, gated by the session
// namespaces.
type SessionRequestParams struct {
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"request"`
	ChainID string `json:"chainId"`
}

// SessionEventParams forwards an application event, gated like requests.
type SessionEventParams struct {
	Event struct {
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	} `json:"event"`
	ChainID string `json:"chainId"`
}

// DeleteParams carries the reason for a pairing or session delete.
type DeleteParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PingParams is empty.
type PingParams struct{}

// DecodeParams unmarshals raw params into out and validates what can be
// validated structurally.
func DecodeParams(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	if v, ok := out.(interface{ validate() error }); ok {
		return v.validate()
	}
	return nil
}

func (p *SessionProposeParams) validate() error {
	if len(p.Relays) == 0 {
		return fmt.Errorf("propose: at least one relay required")
	}
	if p.ProposerPublicKey == "" {
		return fmt.Errorf("propose: proposer public key required")
	}
	return validateNamespaces(p.RequiredNamespaces)
}

func (p *SessionSettleParams) validate() error {
	if p.Controller == "" {
		return fmt.Errorf("settle: controller key required")
	}
	if p.Expiry <= 0 {
		return fmt.Errorf("settle: positive expiry required")
	}
	return validateNamespaces(p.Namespaces)
}

func (p *SessionUpdateParams) validate() error {
	return validateNamespaces(p.Namespaces)
}

// validateNamespaces rejects grants that could never authorize anything:
// a namespace must scope to at least one chain or account.
func validateNamespaces(n domain.Namespaces) error {
	for name, ns := range n {
		if len(ns.Chains) == 0 && len(ns.Accounts) == 0 {
			return fmt.Errorf("namespace %q grants no chains or accounts", name)
		}
	}
	return nil
}
