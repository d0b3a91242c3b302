package domain

import "errors"

// Sentinel errors for errors.Is() checks across the protocol core.
var (
	// ErrInvalidKey is returned when key material is malformed or lies in a
	// low-order subgroup.
	ErrInvalidKey = errors.New("invalid key material")

	// ErrAlreadyConsumed is returned when an ephemeral key pair is reused
	// across two distinct exchanges.
	ErrAlreadyConsumed = errors.New("ephemeral key already consumed")

	// ErrDecryption is returned on envelope authentication failure or a
	// malformed envelope. It is fatal to the single message only, never to
	// the topic subscription.
	ErrDecryption = errors.New("envelope decryption failed")

	// ErrMalformedToken is returned when an auth token does not split into
	// exactly three segments.
	ErrMalformedToken = errors.New("malformed auth token")

	// ErrUnsupportedAlgorithm is returned when a token header is not
	// {alg: EdDSA, typ: JWT}.
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")

	// ErrInvalidIssuer is returned when the token issuer is not a did:key
	// encoding of a 32-byte public key.
	ErrInvalidIssuer = errors.New("invalid token issuer")

	// ErrSignatureVerification is returned when a token signature does not
	// verify against the issuer key.
	ErrSignatureVerification = errors.New("token signature verification failed")

	// ErrUnauthorizedMethod is returned when a session request names a
	// (chainId, method) pair outside the granted namespaces.
	ErrUnauthorizedMethod = errors.New("method not authorized by session namespaces")

	// ErrUnauthorizedEvent is returned when a session event names a
	// (chainId, event) pair outside the granted namespaces.
	ErrUnauthorizedEvent = errors.New("event not authorized by session namespaces")

	// ErrStaleExpiry is returned when a session extend carries an expiry at
	// or before the currently stored one.
	ErrStaleExpiry = errors.New("expiry does not extend the session")

	// ErrUnknownTopic is returned when a method arrives for a topic with no
	// matching pairing or session. Callers log and drop it.
	ErrUnknownTopic = errors.New("no pairing or session for topic")

	// ErrNotFound is returned by stores when an entry does not exist.
	ErrNotFound = errors.New("not found")
)
