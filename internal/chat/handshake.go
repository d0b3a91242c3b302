// Package chat implements the asymmetric invite handshake that bootstraps
// an encrypted thread between two parties with no prior contact.
//
// The sender publishes a type-1 envelope on the recipient's invite topic
// (the hash of their long-lived public key, a discoverable address). The
// invite key I = DH(sender ephemeral, recipient identity) secures only this
// exchange. Acceptance replies under I with a fresh ephemeral whose DH with
// the sender's ephemeral yields the thread key T; the thread topic is the
// hash of T, an address only the two parties can compute. I and T are never
// used for each other's purpose, and both ephemerals die once T exists.
package chat

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"pairlink/internal/domain"
	"pairlink/internal/envelope"
	"pairlink/internal/keyring"
	"pairlink/internal/topic"
)

// Reply kinds carried inside an invite response.
const (
	replyAccept = "accept"
	replyReject = "reject"
)

// ErrInviteRejected is returned when the recipient answered with an
// explicit reject instead of silently letting the invite age out.
var ErrInviteRejected = fmt.Errorf("chat invite rejected by recipient")

type invitePayload struct {
	Message string `json:"message"`
}

type replyPayload struct {
	Kind         string `json:"kind"`
	EphemeralKey string `json:"ephemeralKey,omitempty"`
}

// PendingInvite is the sender-side handshake state held between sending an
// invite and receiving the reply.
type PendingInvite struct {
	Invite    domain.ChatInvite
	Ephemeral domain.KeyPair
	InviteKey domain.SymKey
}

// Handshake runs both sides of the invite exchange over a keyring.
type Handshake struct {
	ring *keyring.Keyring
}

// New returns a handshake helper over ring.
func New(ring *keyring.Keyring) *Handshake {
	return &Handshake{ring: ring}
}

// Invite builds the opening envelope for a recipient whose long-lived
// public key was resolved externally. The envelope is published on the
// recipient's invite topic; the returned pending state completes the
// handshake when the reply arrives.
func (h *Handshake) Invite(recipient domain.X25519Public, opening string) (PendingInvite, domain.Envelope, error) {
	eph, err := h.ring.GenerateKeyPair(domain.ScopeEphemeral)
	if err != nil {
		return PendingInvite{}, domain.Envelope{}, err
	}
	inviteKey, err := h.ring.DeriveSharedSecret(eph, recipient)
	if err != nil {
		return PendingInvite{}, domain.Envelope{}, err
	}
	payload, err := json.Marshal(invitePayload{Message: opening})
	if err != nil {
		return PendingInvite{}, domain.Envelope{}, err
	}
	env, err := envelope.SealHandshake(payload, inviteKey, eph.Public)
	if err != nil {
		return PendingInvite{}, domain.Envelope{}, err
	}
	pending := PendingInvite{
		Invite: domain.ChatInvite{
			InviteTopic:        topic.FromPublicKey(recipient),
			RecipientPublicKey: recipient,
			EphemeralPublicKey: eph.Public,
			OpeningMessage:     opening,
			SentUTC:            time.Now().Unix(),
		},
		Ephemeral: eph,
		InviteKey: inviteKey,
	}
	return pending, env, nil
}

// Complete finishes the sender side once the recipient's reply arrives on
// the invite topic. On acceptance it derives the thread key and consumes
// the ephemeral; a reject reply surfaces ErrInviteRejected. pending is a
// pointer so the ephemeral private key is wiped in the caller's copy.
func (h *Handshake) Complete(pending *PendingInvite, reply domain.Envelope) (domain.ChatThread, error) {
	raw, err := envelope.Open(reply, pending.InviteKey)
	if err != nil {
		return domain.ChatThread{}, err
	}
	var p replyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.ChatThread{}, fmt.Errorf("%w: bad reply payload", domain.ErrDecryption)
	}
	if p.Kind == replyReject {
		h.discard(&pending.Ephemeral)
		return domain.ChatThread{}, ErrInviteRejected
	}
	if p.Kind != replyAccept {
		return domain.ChatThread{}, fmt.Errorf("%w: unknown reply kind %q", domain.ErrDecryption, p.Kind)
	}

	peerEph, err := decodeKey(p.EphemeralKey)
	if err != nil {
		return domain.ChatThread{}, err
	}
	threadKey, err := h.ring.DeriveSharedSecret(pending.Ephemeral, peerEph)
	if err != nil {
		return domain.ChatThread{}, err
	}
	h.discard(&pending.Ephemeral)

	return domain.ChatThread{
		ThreadTopic: topic.FromSymKey(threadKey),
		Key:         threadKey,
		PeerKey:     peerEph,
		CreatedUTC:  time.Now().Unix(),
	}, nil
}

// ReceivedInvite is the recipient-side view of a decrypted invite.
type ReceivedInvite struct {
	Opening   string
	SenderEph domain.X25519Public
	InviteKey domain.SymKey
}

// Receive decrypts an invite addressed to the local identity key.
func (h *Handshake) Receive(env domain.Envelope) (ReceivedInvite, error) {
	if env.Version != domain.EnvelopeTypeOne || env.EphemeralKey == nil {
		return ReceivedInvite{}, fmt.Errorf("%w: invite must be a type-1 envelope", domain.ErrDecryption)
	}
	inviteKey, err := h.ring.DeriveSharedSecret(h.ring.IdentityKeyPair(), *env.EphemeralKey)
	if err != nil {
		return ReceivedInvite{}, err
	}
	raw, err := envelope.Open(env, inviteKey)
	if err != nil {
		return ReceivedInvite{}, err
	}
	var p invitePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ReceivedInvite{}, fmt.Errorf("%w: bad invite payload", domain.ErrDecryption)
	}
	return ReceivedInvite{
		Opening:   p.Message,
		SenderEph: *env.EphemeralKey,
		InviteKey: inviteKey,
	}, nil
}

// Accept answers an invite: a fresh ephemeral is exchanged under the invite
// key (a type-0 envelope, since I is already shared on this leg) and the
// thread is derived locally.
func (h *Handshake) Accept(inv ReceivedInvite) (domain.ChatThread, domain.Envelope, error) {
	eph, err := h.ring.GenerateKeyPair(domain.ScopeEphemeral)
	if err != nil {
		return domain.ChatThread{}, domain.Envelope{}, err
	}
	threadKey, err := h.ring.DeriveSharedSecret(eph, inv.SenderEph)
	if err != nil {
		return domain.ChatThread{}, domain.Envelope{}, err
	}
	payload, err := json.Marshal(replyPayload{
		Kind:         replyAccept,
		EphemeralKey: hex.EncodeToString(eph.Public[:]),
	})
	if err != nil {
		return domain.ChatThread{}, domain.Envelope{}, err
	}
	env, err := envelope.Seal(payload, inv.InviteKey)
	if err != nil {
		return domain.ChatThread{}, domain.Envelope{}, err
	}
	h.discard(&eph)

	thread := domain.ChatThread{
		ThreadTopic: topic.FromSymKey(threadKey),
		Key:         threadKey,
		PeerKey:     inv.SenderEph,
		CreatedUTC:  time.Now().Unix(),
	}
	return thread, env, nil
}

// Reject answers an invite with an explicit reject envelope under the
// invite key. Senders that never hear back instead drop the pending invite
// on their own timeout; both paths end the handshake.
func (h *Handshake) Reject(inv ReceivedInvite) (domain.Envelope, error) {
	payload, err := json.Marshal(replyPayload{Kind: replyReject})
	if err != nil {
		return domain.Envelope{}, err
	}
	return envelope.Seal(payload, inv.InviteKey)
}

// discard ends the ephemeral's exchange and zeroes the private half in
// place, so the caller's copy does not outlive the handshake.
func (h *Handshake) discard(eph *domain.KeyPair) {
	_ = h.ring.Consume(eph.Public)
	keyring.WipePair(eph)
}

func decodeKey(s string) (domain.X25519Public, error) {
	var pub domain.X25519Public
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(pub) {
		return pub, fmt.Errorf("%w: bad ephemeral key encoding", domain.ErrInvalidKey)
	}
	copy(pub[:], raw)
	return pub, nil
}
