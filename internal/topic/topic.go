// Package topic derives relay topic identifiers from key material.
//
// The same one-way mapping serves two intents: hashing a public key gives a
// fixed, discoverable address for first contact; hashing a shared symmetric
// key gives an address only the two participants can compute.
package topic

import (
	"crypto/sha256"
	"encoding/hex"

	"pairlink/internal/domain"
)

// FromPublicKey derives the invite topic for a long-lived public key.
func FromPublicKey(pub domain.X25519Public) domain.Topic {
	return derive(pub[:])
}

// FromSymKey derives the thread or session topic for a shared key.
func FromSymKey(key domain.SymKey) domain.Topic {
	return derive(key[:])
}

func derive(material []byte) domain.Topic {
	sum := sha256.Sum256(material)
	return domain.Topic(hex.EncodeToString(sum[:]))
}
