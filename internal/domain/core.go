package domain

// Topic is a relay-addressable channel identifier, derived deterministically
// from key material. Invite topics hash a public key (discoverable); thread
// and session topics hash a shared symmetric key (unguessable).
type Topic string

// String returns the string form of the topic.
func (t Topic) String() string { return string(t) }

// ClientID identifies a client to the relay for auth-nonce issuance.
type ClientID string

// String returns the string form of the client identifier.
func (id ClientID) String() string { return string(id) }
