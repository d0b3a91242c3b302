package domain

// Envelope versions. A type-1 envelope opens a handshake and carries the
// sender's ephemeral public key; every later message on the topic is type 0.
const (
	EnvelopeTypeZero byte = 0
	EnvelopeTypeOne  byte = 1
)

// Envelope is the encrypted wire unit published to a relay topic.
//
// Invariant: Version 1 envelopes carry EphemeralKey; version 0 envelopes
// must not.
type Envelope struct {
	Version      byte          `json:"version"`
	EphemeralKey *X25519Public `json:"ephemeral_key,omitempty"`
	Nonce        []byte        `json:"nonce"`
	Ciphertext   []byte        `json:"ciphertext"`
}
