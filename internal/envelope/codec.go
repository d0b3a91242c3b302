// Package envelope seals and opens the encrypted wire unit exchanged over
// relay topics.
//
// Two envelope types exist. Type 1 opens a handshake: no symmetric key has
// crossed the wire yet, so the envelope carries the sender's ephemeral
// public key for the recipient to complete Diffie-Hellman. Type 0 covers
// every message on a topic whose key both sides already share.
package envelope

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"pairlink/internal/domain"
)

// Seal encrypts payload under key as a type-0 envelope.
func Seal(payload []byte, key domain.SymKey) (domain.Envelope, error) {
	nonce, ct, err := seal(payload, key)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		Version:    domain.EnvelopeTypeZero,
		Nonce:      nonce,
		Ciphertext: ct,
	}, nil
}

// SealHandshake encrypts payload under key as a type-1 envelope carrying the
// sender's ephemeral public key.
func SealHandshake(payload []byte, key domain.SymKey, eph domain.X25519Public) (domain.Envelope, error) {
	nonce, ct, err := seal(payload, key)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		Version:      domain.EnvelopeTypeOne,
		EphemeralKey: &eph,
		Nonce:        nonce,
		Ciphertext:   ct,
	}, nil
}

// Open decrypts an envelope with key. Authentication failure and structural
// problems both surface as ErrDecryption; the caller treats that as fatal to
// the single message only.
func Open(env domain.Envelope, key domain.SymKey) ([]byte, error) {
	switch env.Version {
	case domain.EnvelopeTypeZero:
		if env.EphemeralKey != nil {
			return nil, fmt.Errorf("%w: type-0 envelope carries an ephemeral key", domain.ErrDecryption)
		}
	case domain.EnvelopeTypeOne:
		if env.EphemeralKey == nil {
			return nil, fmt.Errorf("%w: type-1 envelope missing ephemeral key", domain.ErrDecryption)
		}
	default:
		return nil, fmt.Errorf("%w: unknown envelope version %d", domain.ErrDecryption, env.Version)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", domain.ErrDecryption, len(env.Nonce))
	}

	aead, err := chacha20poly1305.New(key.Slice())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	pt, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return pt, nil
}

func seal(payload []byte, key domain.SymKey) (nonce, ct []byte, err error) {
	aead, err := chacha20poly1305.New(key.Slice())
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, payload, nil), nil
}
