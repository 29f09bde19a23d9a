package chainadapter

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"

	"github.com/agent-fabric/connector/core/claims"
)

// SimulatedAdapter settles claims entirely in memory: every submission with a
// valid signature and an advancing nonce is accepted and marked settled
// immediately. Grounded on the teacher's core/cross_chain_bridge.go record
// keeping (BridgeTransfer stored by ID, later marked Completed) — adapted
// from a bridge-transfer ledger to a per-channel claim ledger used in tests
// and local development in place of a real chain.
type SimulatedAdapter struct {
	chainTag string
	fail     bool // when true, every submission reports StatusChainError

	mu      sync.Mutex
	settled map[[32]byte][]claims.Claim
}

// NewSimulatedAdapter returns an adapter that accepts any validly signed,
// nonce-advancing claim for chainTag.
func NewSimulatedAdapter(chainTag string) *SimulatedAdapter {
	return &SimulatedAdapter{
		chainTag: chainTag,
		settled:  make(map[[32]byte][]claims.Claim),
	}
}

// SetFailing toggles whether SubmitClaim reports StatusChainError, used by
// tests exercising the settlement retry path (§5).
func (a *SimulatedAdapter) SetFailing(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = fail
}

func (a *SimulatedAdapter) ChainTag() string { return a.chainTag }

func (a *SimulatedAdapter) SubmitClaim(ctx context.Context, c claims.Claim) (Status, error) {
	if c.ChainTag != a.chainTag {
		return StatusChainError, ErrUnsupportedChain
	}
	select {
	case <-ctx.Done():
		return StatusChainError, ctx.Err()
	default:
	}

	pub := ed25519.PublicKey(c.PublicKey[:])
	msg := claims.EncodeMessage(c.ChainTag, c.ChannelOwner, c.Amount, c.Nonce)
	if !ed25519.Verify(pub, msg, c.Signature[:]) {
		return StatusChainError, fmt.Errorf("chainadapter: simulated chain rejected invalid signature")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return StatusChainError, fmt.Errorf("chainadapter: simulated chain unavailable")
	}
	history := a.settled[c.ChannelOwner]
	for _, prior := range history {
		if prior.Nonce >= c.Nonce {
			return StatusChainError, fmt.Errorf("chainadapter: nonce %d not greater than previously settled %d", c.Nonce, prior.Nonce)
		}
	}
	a.settled[c.ChannelOwner] = append(history, c)
	return StatusSettled, nil
}

func (a *SimulatedAdapter) Health(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return fmt.Errorf("chainadapter: simulated chain marked unhealthy")
	}
	return nil
}

// SettledFor returns the settlement history for a channel owner, ordered by
// nonce, for use in tests.
func (a *SimulatedAdapter) SettledFor(owner [32]byte) []claims.Claim {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]claims.Claim(nil), a.settled[owner]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out
}
