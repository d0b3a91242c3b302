package domain

// KeyScope distinguishes process-lifetime identity keys from single-use
// exchange keys.
type KeyScope int

const (
	// ScopeIdentity marks a long-lived key pair tied to the client identity.
	ScopeIdentity KeyScope = iota
	// ScopeEphemeral marks a per-exchange key pair that must be discarded
	// after one symmetric derivation.
	ScopeEphemeral
)

// String returns a human-readable scope name.
func (s KeyScope) String() string {
	switch s {
	case ScopeIdentity:
		return "identity"
	case ScopeEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// SymKey is a Diffie-Hellman-derived symmetric key. It is owned jointly by
// both participants of an exchange and is never sent on the wire.
type SymKey [32]byte

// Slice returns the key as a []byte.
func (k SymKey) Slice() []byte { return k[:] }

// KeyPair is an X25519 key pair tagged with its scope.
type KeyPair struct {
	Public  X25519Public
	Private X25519Private
	Scope   KeyScope
}

// Identity carries both Diffie-Hellman (X25519) and signature (Ed25519)
// material for the local client.
type Identity struct {
	XPub  X25519Public  `json:"x_pub"`
	XPriv X25519Private `json:"x_priv"`

	EdPub  Ed25519Public  `json:"ed_pub"`
	EdPriv Ed25519Private `json:"ed_priv"`
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
