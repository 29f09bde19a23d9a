package chainadapter

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/agent-fabric/connector/core/claims"
)

func signedClaim(t *testing.T, priv ed25519.PrivateKey, owner [32]byte, amount, nonce uint64) claims.Claim {
	t.Helper()
	s := claims.NewSigner(priv, "APTOS", owner, nonce-1)
	c, err := s.Sign(amount, nonce)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return c
}

func TestSimulatedAdapterAcceptsAdvancingNonce(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var owner [32]byte
	copy(owner[:], pub)

	a := NewSimulatedAdapter("APTOS")
	c1 := signedClaim(t, priv, owner, 100, 1)
	status, err := a.SubmitClaim(context.Background(), c1)
	if err != nil || status != StatusSettled {
		t.Fatalf("want settled, got status=%v err=%v", status, err)
	}

	c2 := signedClaim(t, priv, owner, 200, 2)
	status, err = a.SubmitClaim(context.Background(), c2)
	if err != nil || status != StatusSettled {
		t.Fatalf("want settled, got status=%v err=%v", status, err)
	}

	history := a.SettledFor(owner)
	if len(history) != 2 || history[0].Nonce != 1 || history[1].Nonce != 2 {
		t.Fatalf("unexpected settlement history: %+v", history)
	}
}

func TestSimulatedAdapterRejectsStaleNonce(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var owner [32]byte
	copy(owner[:], pub)

	a := NewSimulatedAdapter("APTOS")
	newer := signedClaim(t, priv, owner, 100, 5)
	if _, err := a.SubmitClaim(context.Background(), newer); err != nil {
		t.Fatalf("submit newer: %v", err)
	}

	older := signedClaim(t, priv, owner, 100, 4)
	status, err := a.SubmitClaim(context.Background(), older)
	if err == nil || status != StatusChainError {
		t.Fatalf("want chain error rejecting stale nonce, got status=%v err=%v", status, err)
	}
}

func TestSimulatedAdapterRejectsBadSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var owner [32]byte
	copy(owner[:], pub)

	a := NewSimulatedAdapter("APTOS")
	c := signedClaim(t, priv, owner, 100, 1)
	c.Amount = 999 // tamper post-signature

	status, err := a.SubmitClaim(context.Background(), c)
	if err == nil || status != StatusChainError {
		t.Fatalf("want chain error on invalid signature, got status=%v err=%v", status, err)
	}
}

func TestSimulatedAdapterSetFailing(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var owner [32]byte
	copy(owner[:], pub)

	a := NewSimulatedAdapter("APTOS")
	a.SetFailing(true)

	c := signedClaim(t, priv, owner, 100, 1)
	status, err := a.SubmitClaim(context.Background(), c)
	if err == nil || status != StatusChainError {
		t.Fatalf("want chain error while failing, got status=%v err=%v", status, err)
	}
	if err := a.Health(context.Background()); err == nil {
		t.Fatalf("want unhealthy while failing")
	}
}

func TestRegistryResolve(t *testing.T) {
	sim := NewSimulatedAdapter("APTOS")
	evm := NewEVMAdapter("http://localhost:8545", "0xregistry")
	r := NewRegistry(sim, evm)

	if r.Resolve("APTOS") != ChainAdapter(sim) {
		t.Fatalf("expected APTOS to resolve to sim adapter")
	}
	if r.Resolve("EVM") != ChainAdapter(evm) {
		t.Fatalf("expected EVM to resolve to evm adapter")
	}
	if r.Resolve("UNKNOWN") != nil {
		t.Fatalf("expected unknown chain tag to resolve to nil")
	}
}
