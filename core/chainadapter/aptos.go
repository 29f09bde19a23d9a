package chainadapter

import (
	"context"
	"fmt"

	"github.com/agent-fabric/connector/core/claims"
	"github.com/agent-fabric/connector/core/log"
)

// AptosAdapter targets the representative "APTOS" chain family (§4.7's own
// worked example: domain separator "CLAIM_APTOS", 59-byte message). Real
// transaction construction — building and broadcasting a Move entry-function
// call against a settlement module on Aptos — is explicitly out of scope
// (§1); SubmitClaim is a documented stub so the rest of the settlement path
// (queueing, retry, WAL) can be exercised end-to-end against it.
type AptosAdapter struct {
	rpcURL          string
	registryAddress string
}

// NewAptosAdapter wires an adapter against rpcURL/registryAddress, the
// settlementInfra fields for chainTag="APTOS" (§6.5).
func NewAptosAdapter(rpcURL, registryAddress string) *AptosAdapter {
	return &AptosAdapter{rpcURL: rpcURL, registryAddress: registryAddress}
}

func (a *AptosAdapter) ChainTag() string { return "APTOS" }

func (a *AptosAdapter) SubmitClaim(ctx context.Context, c claims.Claim) (Status, error) {
	log.For("chainadapter.aptos").WithFields(map[string]interface{}{
		"rpcUrl":   a.rpcURL,
		"registry": a.registryAddress,
		"nonce":    c.Nonce,
	}).Warn("aptos settlement transaction construction not implemented")
	return StatusChainError, fmt.Errorf("chainadapter: aptos submitClaim not implemented (rpc=%s registry=%s)", a.rpcURL, a.registryAddress)
}

func (a *AptosAdapter) Health(ctx context.Context) error {
	if a.rpcURL == "" {
		return fmt.Errorf("chainadapter: aptos adapter has no rpcUrl configured")
	}
	return fmt.Errorf("chainadapter: aptos submitClaim not implemented")
}
