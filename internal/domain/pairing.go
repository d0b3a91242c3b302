package domain

// PairingState is the lifecycle state of a pairing.
type PairingState int

const (
	// PairingProposed means a proposal is outstanding and awaiting the
	// responder's approval or rejection.
	PairingProposed PairingState = iota
	// PairingSettled means both sides agreed on relay and keys.
	PairingSettled
	// PairingDeleted is terminal.
	PairingDeleted
)

// String returns a human-readable state name.
func (s PairingState) String() string {
	switch s {
	case PairingProposed:
		return "proposed"
	case PairingSettled:
		return "settled"
	case PairingDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RelayParams names the relay protocol the pairing traffic rides on.
type RelayParams struct {
	Protocol string `json:"protocol"`
	Data     string `json:"data,omitempty"`
}

// ProposerMetadata describes the proposing application to the responder's
// user at approval time.
type ProposerMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Pairing is the outer, long-lived relationship between two clients'
// identity keys. It exclusively owns its child sessions: deleting a pairing
// cascades to every session settled under it.
type Pairing struct {
	Topic              Topic            `json:"topic"`
	PeerPublicKey      X25519Public     `json:"peer_public_key"`
	SelfPublicKey      X25519Public     `json:"self_public_key"`
	Metadata           ProposerMetadata `json:"metadata"`
	RequiredNamespaces Namespaces       `json:"required_namespaces"`
	Relay              RelayParams      `json:"relay"`
	State              PairingState     `json:"state"`
	CreatedUTC         int64            `json:"created_utc"`
}
