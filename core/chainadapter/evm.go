package chainadapter

import (
	"context"
	"encoding/binary"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/agent-fabric/connector/core/claims"
	"github.com/agent-fabric/connector/core/log"
)

// EVMAdapter targets an EVM-family chain using a domain separator + keccak256
// digest ("CLAIM_EVM__" || channelOwner || amount || nonce, hashed) instead of
// the ed25519-over-raw-message scheme used by the representative chain —
// demonstrating per §9 OQ2 that other chain families reuse the claim shape
// with their own prefix and hash, without claiming cross-chain portability.
// Like AptosAdapter, real transaction construction is out of scope (§1);
// SubmitClaim is a documented stub.
type EVMAdapter struct {
	rpcURL          string
	registryAddress string
}

// NewEVMAdapter wires an adapter against rpcURL/registryAddress, the
// settlementInfra fields for chainTag="EVM".
func NewEVMAdapter(rpcURL, registryAddress string) *EVMAdapter {
	return &EVMAdapter{rpcURL: rpcURL, registryAddress: registryAddress}
}

func (a *EVMAdapter) ChainTag() string { return "EVM" }

// digest computes the EVM-family claim digest: keccak256("CLAIM_EVM__" ||
// channelOwner(32B) || amount(u64 LE) || nonce(u64 LE)).
func digest(c claims.Claim) []byte {
	msg := make([]byte, 0, 11+32+8+8)
	msg = append(msg, "CLAIM_EVM__"...)
	msg = append(msg, c.ChannelOwner[:]...)
	var amtBuf, nonceBuf [8]byte
	binary.LittleEndian.PutUint64(amtBuf[:], c.Amount)
	binary.LittleEndian.PutUint64(nonceBuf[:], c.Nonce)
	msg = append(msg, amtBuf[:]...)
	msg = append(msg, nonceBuf[:]...)
	return gethcrypto.Keccak256(msg)
}

func (a *EVMAdapter) SubmitClaim(ctx context.Context, c claims.Claim) (Status, error) {
	d := digest(c)
	log.For("chainadapter.evm").WithFields(map[string]interface{}{
		"rpcUrl":   a.rpcURL,
		"registry": a.registryAddress,
		"nonce":    c.Nonce,
		"digest":   fmt.Sprintf("%x", d),
	}).Warn("evm settlement transaction construction not implemented")
	return StatusChainError, fmt.Errorf("chainadapter: evm submitClaim not implemented (rpc=%s registry=%s)", a.rpcURL, a.registryAddress)
}

func (a *EVMAdapter) Health(ctx context.Context) error {
	if a.rpcURL == "" {
		return fmt.Errorf("chainadapter: evm adapter has no rpcUrl configured")
	}
	return fmt.Errorf("chainadapter: evm submitClaim not implemented")
}
