// Package authtoken issues and verifies the signed bearer token a client
// presents when opening its relay connection.
//
// The token is a JWT signed with the client's Ed25519 identity key. The
// issuer is the did:key encoding of the public key and the subject is the
// server-issued nonce, so a verifier learns which identity vouched for which
// nonce. Binding the subject to the expected nonce (freshness/replay) is the
// verifier's responsibility.
package authtoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"pairlink/internal/domain"
)

const didKeyPrefix = "did:key:"

// Issue signs a token binding the identity key to the server-issued nonce.
func Issue(nonce string, id domain.Identity) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:  didKeyPrefix + hex.EncodeToString(id.EdPub[:]),
		Subject: nonce,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(ed25519.PrivateKey(id.EdPriv[:]))
	if err != nil {
		return "", fmt.Errorf("signing auth token: %w", err)
	}
	return signed, nil
}

// Verify checks a presented token and returns the issuer's public key and
// the subject nonce.
//
// Failure modes, in check order: not exactly three segments
// (ErrMalformedToken); header other than {alg: EdDSA, typ: JWT}
// (ErrUnsupportedAlgorithm); issuer without the did:key prefix or whose key
// segment is not 32 bytes (ErrInvalidIssuer); signature mismatch
// (ErrSignatureVerification).
func Verify(token string) (domain.Ed25519Public, string, error) {
	var pub domain.Ed25519Public

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return pub, "", domain.ErrMalformedToken
	}
	if err := checkHeader(parts[0]); err != nil {
		return pub, "", err
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"EdDSA"}))
	claims := &jwt.RegisteredClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil {
			return nil, domain.ErrInvalidIssuer
		}
		p, err := issuerKey(iss)
		if err != nil {
			return nil, err
		}
		pub = p
		return ed25519.PublicKey(pub[:]), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidIssuer):
		return domain.Ed25519Public{}, "", domain.ErrInvalidIssuer
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.Ed25519Public{}, "", domain.ErrSignatureVerification
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.Ed25519Public{}, "", domain.ErrMalformedToken
	default:
		return domain.Ed25519Public{}, "", fmt.Errorf("%w: %v", domain.ErrSignatureVerification, err)
	}
	return pub, claims.Subject, nil
}

// checkHeader decodes the first token segment and pins the expected
// algorithm and type.
func checkHeader(seg string) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return domain.ErrMalformedToken
	}
	var hdr struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return domain.ErrMalformedToken
	}
	if hdr.Alg != "EdDSA" || hdr.Typ != "JWT" {
		return domain.ErrUnsupportedAlgorithm
	}
	return nil
}

// issuerKey decodes a did:key hex issuer into an Ed25519 public key.
func issuerKey(iss string) (domain.Ed25519Public, error) {
	var pub domain.Ed25519Public
	if !strings.HasPrefix(iss, didKeyPrefix) {
		return pub, domain.ErrInvalidIssuer
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(iss, didKeyPrefix))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return pub, domain.ErrInvalidIssuer
	}
	copy(pub[:], raw)
	return pub, nil
}
