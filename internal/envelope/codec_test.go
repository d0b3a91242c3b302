package envelope_test

import (
	"bytes"
	"errors"
	"testing"

	"pairlink/internal/domain"
	"pairlink/internal/envelope"
)

func testKey(b byte) domain.SymKey {
	var k domain.SymKey
	for i := range k {
		k[i] = b
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(1)
	payload := []byte(`{"hello":"world"}`)

	env, err := envelope.Seal(payload, key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if env.Version != domain.EnvelopeTypeZero {
		t.Fatalf("want version 0, got %d", env.Version)
	}
	if env.EphemeralKey != nil {
		t.Fatal("type-0 envelope must not carry an ephemeral key")
	}

	got, err := envelope.Open(env, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q != %q", got, payload)
	}
}

func TestSealHandshakeCarriesEphemeral(t *testing.T) {
	key := testKey(2)
	var eph domain.X25519Public
	eph[0] = 9

	env, err := envelope.SealHandshake([]byte("hi"), key, eph)
	if err != nil {
		t.Fatalf("SealHandshake: %v", err)
	}
	if env.Version != domain.EnvelopeTypeOne {
		t.Fatalf("want version 1, got %d", env.Version)
	}
	if env.EphemeralKey == nil || *env.EphemeralKey != eph {
		t.Fatal("handshake envelope must carry the sender's ephemeral key")
	}
	if _, err := envelope.Open(env, key); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestOpenWrongKey(t *testing.T) {
	env, err := envelope.Seal([]byte("secret"), testKey(3))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := envelope.Open(env, testKey(4)); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("want ErrDecryption, got %v", err)
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	key := testKey(5)
	env, err := envelope.Seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.Ciphertext[0] ^= 1
	if _, err := envelope.Open(env, key); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("want ErrDecryption, got %v", err)
	}
}

func TestOpenVersionInvariants(t *testing.T) {
	key := testKey(6)
	var eph domain.X25519Public

	env, err := envelope.Seal([]byte("x"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env.EphemeralKey = &eph
	if _, err := envelope.Open(env, key); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("type-0 with ephemeral key: want ErrDecryption, got %v", err)
	}

	env2, err := envelope.SealHandshake([]byte("x"), key, eph)
	if err != nil {
		t.Fatalf("SealHandshake: %v", err)
	}
	env2.EphemeralKey = nil
	if _, err := envelope.Open(env2, key); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("type-1 without ephemeral key: want ErrDecryption, got %v", err)
	}

	env3, err := envelope.Seal([]byte("x"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	env3.Version = 7
	if _, err := envelope.Open(env3, key); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("unknown version: want ErrDecryption, got %v", err)
	}
}
