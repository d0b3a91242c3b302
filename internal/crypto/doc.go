// Package crypto exposes the minimal primitives used by pairlink.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Symmetric key derivation from a raw DH secret (DeriveSymKey)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them when practical.
package crypto
