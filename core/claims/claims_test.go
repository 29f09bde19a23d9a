package claims

import (
	"crypto/ed25519"
	"testing"
)

func TestEncodeMessageAptosExampleLength(t *testing.T) {
	var owner [32]byte
	msg := EncodeMessage("APTOS", owner, 100, 1)
	if len(msg) != 59 {
		t.Fatalf("want 59-byte message for APTOS example, got %d", len(msg))
	}
}

func TestEncodeMessageDeterministic(t *testing.T) {
	var owner [32]byte
	copy(owner[:], []byte("owner-1-owner-1-owner-1-owner-1!"))
	a := EncodeMessage("APTOS", owner, 42, 7)
	b := EncodeMessage("APTOS", owner, 42, 7)
	if string(a) != string(b) {
		t.Fatalf("expected deterministic encoding")
	}
}

func TestSignDeterministicAcrossSigners(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var owner [32]byte
	copy(owner[:], pub)

	s1 := NewSigner(priv, "APTOS", owner, 0)
	s2 := NewSigner(priv, "APTOS", owner, 0)

	c1, err := s1.Sign(100, 1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := s2.Sign(100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c1.Signature != c2.Signature {
		t.Fatalf("expected byte-identical signatures from identical key+inputs")
	}
}

// Scenario 5 from §8: sign nonce=1, re-sign nonce=1 fails, sign nonce=2
// succeeds; a fresh verifier accepts both in order, with nonce=2 the latest.
func TestNonceMonotonicityScenario(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var owner [32]byte
	copy(owner[:], pub)

	signer := NewSigner(priv, "APTOS", owner, 0)

	c1, err := signer.Sign(100, 1)
	if err != nil {
		t.Fatalf("sign nonce=1: %v", err)
	}

	if _, err := signer.Sign(100, 1); err == nil {
		t.Fatalf("expected re-signing nonce=1 to fail")
	}

	c2, err := signer.Sign(100, 2)
	if err != nil {
		t.Fatalf("sign nonce=2: %v", err)
	}

	v := NewVerifier()
	if err := v.Accept("peerA", c1); err != nil {
		t.Fatalf("accept c1: %v", err)
	}
	if err := v.Accept("peerA", c2); err != nil {
		t.Fatalf("accept c2: %v", err)
	}
	if got := v.HighestReceivedNonce("peerA", owner); got != 2 {
		t.Fatalf("want highest nonce 2, got %d", got)
	}
}

func TestVerifierRejectsStaleNonce(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var owner [32]byte
	copy(owner[:], pub)
	signer := NewSigner(priv, "APTOS", owner, 5)

	older, err := signer.Sign(10, 6)
	if err != nil {
		t.Fatal(err)
	}
	newer, err := signer.Sign(10, 7)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier()
	if err := v.Accept("peerA", newer); err != nil {
		t.Fatalf("accept newer: %v", err)
	}
	if err := v.Accept("peerA", older); err != ErrStaleNonce {
		t.Fatalf("want ErrStaleNonce for an already-superseded nonce, got %v", err)
	}
}

func TestVerifierRejectsBadSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var owner [32]byte
	copy(owner[:], pub)
	signer := NewSigner(priv, "APTOS", owner, 0)
	c, _ := signer.Sign(10, 1)
	c.Amount = 999 // tamper post-signature

	v := NewVerifier()
	if err := v.Accept("peerA", c); err != ErrInvalidSig {
		t.Fatalf("want ErrInvalidSig, got %v", err)
	}
}
