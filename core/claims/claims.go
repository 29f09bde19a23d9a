// Package claims implements the off-chain claim signer/verifier of §4.7: a
// deterministic message encoding plus ed25519 signing, with per-(peer,
// channelOwner) nonce tracking that is separate from the signer's own nonce
// counter.
//
// Grounded on the teacher's core/security.go Sign/Verify ed25519 path (same
// algorithm, same "thin wrapper over crypto/ed25519" shape) and on
// core/state_channel.go's nonce-ordered signed-state bookkeeping, adapted
// from a 2-party on-chain channel to a per-peer claim ledger.
package claims

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Claim is a signed assertion of cumulative owed amount at a nonce, for one
// chain-tagged channel (§3).
type Claim struct {
	ChainTag     string
	ChannelOwner [32]byte
	Amount       uint64
	Nonce        uint64
	Signature    [64]byte
	PublicKey    [32]byte
}

var (
	ErrStaleNonce       = errors.New("claims: nonce not greater than highest received")
	ErrInvalidSig       = errors.New("claims: signature verification failed")
	ErrNonceNotAdvanced = errors.New("claims: outgoing nonce must strictly increase")
)

// EncodeMessage builds the deterministic signing message for a claim (§4.7):
//
//	ASCII("CLAIM_" || chainTag) || channelOwner(32B) || amount(u64 LE) || nonce(u64 LE)
func EncodeMessage(chainTag string, channelOwner [32]byte, amount, nonce uint64) []byte {
	prefix := "CLAIM_" + chainTag
	msg := make([]byte, 0, len(prefix)+32+8+8)
	msg = append(msg, prefix...)
	msg = append(msg, channelOwner[:]...)
	var amtBuf, nonceBuf [8]byte
	binary.LittleEndian.PutUint64(amtBuf[:], amount)
	binary.LittleEndian.PutUint64(nonceBuf[:], nonce)
	msg = append(msg, amtBuf[:]...)
	msg = append(msg, nonceBuf[:]...)
	return msg
}

// Signer exclusively owns the outgoing nonce counter for one (peerId,
// chainTag) channel (§4.7 "Ownership"). A Signer is not safe for concurrent
// use by more than one goroutine issuing claims for the same channel — the
// settlement worker that owns a channel (§5) is single-threaded per channel.
type Signer struct {
	priv     ed25519.PrivateKey
	pub      [32]byte
	chainTag string
	owner    [32]byte
	nonce    uint64 // last nonce successfully signed; 0 means none yet
}

// NewSigner creates a Signer for chainTag using priv, tracking its own nonce
// counter starting from startNonce (the last nonce persisted for this
// channel, or 0 for a brand-new channel).
func NewSigner(priv ed25519.PrivateKey, chainTag string, owner [32]byte, startNonce uint64) *Signer {
	var pub [32]byte
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &Signer{priv: priv, pub: pub, chainTag: chainTag, owner: owner, nonce: startNonce}
}

// Sign produces a Claim at (amount, nonce) where nonce must strictly exceed
// the signer's current nonce; on success the signer's nonce advances to
// nonce. Deterministic: identical inputs with the same key yield a
// byte-identical signature (ed25519 is deterministic).
func (s *Signer) Sign(amount, nonce uint64) (Claim, error) {
	if nonce <= s.nonce {
		return Claim{}, fmt.Errorf("%w: have %d, want >%d", ErrNonceNotAdvanced, nonce, s.nonce)
	}
	msg := EncodeMessage(s.chainTag, s.owner, amount, nonce)
	sig := ed25519.Sign(s.priv, msg)
	var sigArr [64]byte
	copy(sigArr[:], sig)
	s.nonce = nonce
	return Claim{
		ChainTag:     s.chainTag,
		ChannelOwner: s.owner,
		Amount:       amount,
		Nonce:        nonce,
		Signature:    sigArr,
		PublicKey:    s.pub,
	}, nil
}

// NextClaim signs a claim at the signer's current nonce + 1, the shape used
// by the channel ledger's signOutgoingClaim (§4.6).
func (s *Signer) NextClaim(amount uint64) (Claim, error) {
	return s.Sign(amount, s.nonce+1)
}

// Nonce returns the signer's current (last-signed) nonce.
func (s *Signer) Nonce() uint64 { return s.nonce }

// verifierKey identifies one (peerId, channelOwner) tracked by a Verifier.
type verifierKey struct {
	peerID string
	owner  [32]byte
}

// Verifier tracks highestReceivedNonce per (peerId, channelOwner), separate
// from any Signer's own nonce counter (§4.7 "Verifier state").
type Verifier struct {
	mu         sync.Mutex
	highest    map[verifierKey]uint64
	currAccept map[verifierKey]uint64
}

// NewVerifier creates an empty Verifier.
func NewVerifier() *Verifier {
	return &Verifier{
		highest:    make(map[verifierKey]uint64),
		currAccept: make(map[verifierKey]uint64),
	}
}

// Accept verifies c's signature and nonce-monotonicity for peerID, requiring
// claim.nonce > highestReceivedNonce and claim.amount >= currently accepted
// amount (§4.6 acceptIncomingClaim). On success both are updated; on
// failure, no state changes (signature failure is rejected silently, §4.7).
func (v *Verifier) Accept(peerID string, c Claim) error {
	pub := ed25519.PublicKey(c.PublicKey[:])
	msg := EncodeMessage(c.ChainTag, c.ChannelOwner, c.Amount, c.Nonce)
	if !ed25519.Verify(pub, msg, c.Signature[:]) {
		return ErrInvalidSig
	}

	key := verifierKey{peerID: peerID, owner: c.ChannelOwner}
	v.mu.Lock()
	defer v.mu.Unlock()
	if c.Nonce <= v.highest[key] {
		return ErrStaleNonce
	}
	if c.Amount < v.currAccept[key] {
		return fmt.Errorf("claims: amount %d below currently accepted %d", c.Amount, v.currAccept[key])
	}
	v.highest[key] = c.Nonce
	v.currAccept[key] = c.Amount
	return nil
}

// HighestReceivedNonce returns the highest nonce accepted so far for
// (peerID, owner).
func (v *Verifier) HighestReceivedNonce(peerID string, owner [32]byte) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.highest[verifierKey{peerID: peerID, owner: owner}]
}
